// Package sync is the orchestrator: it drains the pending-operation queue to
// the server, reconciles the server's changes into the local store, and
// resolves divergence through the conflict resolver. One cycle walks
// Idle -> Draining -> Reconciling -> Applying -> Idle, or lands in Failed
// when the cycle cannot complete.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/queue"
	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/resolver"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
)

// Phase names where the engine sits in a cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDraining    Phase = "draining"
	PhaseReconciling Phase = "reconciling"
	PhaseApplying    Phase = "applying"
	PhaseFailed      Phase = "failed"
)

// EventType defines sync event types.
type EventType string

const (
	EventStarted   EventType = "started"
	EventOpPushed  EventType = "op_pushed"
	EventOpFailed  EventType = "op_failed"
	EventPulled    EventType = "pulled"
	EventConflict  EventType = "conflict"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one observable step of a sync cycle.
type Event struct {
	Type      EventType
	Timestamp time.Time
	EntityID  string
	Error     error
	Progress  *Progress
}

// Progress tracks a cycle in flight.
type Progress struct {
	Phase     Phase
	Pushed    int
	Failed    int
	Pulled    int
	Applied   int
	Conflicts int
	StartTime time.Time
}

// EngineConfig shapes a sync cycle.
type EngineConfig struct {
	BatchSize     int
	MaxConcurrent int
	OpTimeout     time.Duration

	// Policy is the default conflict strategy. Nil falls back to the
	// last-write-wins timestamp heuristic.
	Policy *models.ConflictResolution
}

// Engine runs sync cycles. A cycle is exclusive; starting a second one while
// the first runs returns ErrSyncInProgress.
type Engine struct {
	store      store.Store
	queue      queue.Queue
	tombstones tombstone.Tracker
	remote     *remote.Client
	checkpoint Checkpoint
	logger     *events.Logger

	batchSize     int
	maxConcurrent int
	opTimeout     time.Duration
	policy        *models.ConflictResolution

	phase      atomic.Value // Phase
	progress   atomic.Value // *Progress
	progressMu sync.Mutex   // serializes copy-updates of progress
	events     chan Event

	mu           sync.Mutex
	countMu      sync.Mutex // guards the shared SyncResult during drain
	syncing      bool
	cancelFn     context.CancelFunc
	eventsClosed bool
}

// NewEngine creates a sync engine.
func NewEngine(
	st store.Store,
	q queue.Queue,
	tr tombstone.Tracker,
	rc *remote.Client,
	cp Checkpoint,
	cfg *EngineConfig,
	logger *events.Logger,
) *Engine {
	e := &Engine{
		store:         st,
		queue:         q,
		tombstones:    tr,
		remote:        rc,
		checkpoint:    cp,
		logger:        logger.WithField("component", "sync_engine"),
		batchSize:     cfg.BatchSize,
		maxConcurrent: cfg.MaxConcurrent,
		opTimeout:     cfg.OpTimeout,
		policy:        cfg.Policy,
		events:        make(chan Event, 100),
	}
	e.phase.Store(PhaseIdle)
	return e
}

// Events returns the event channel for the current cycle.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Phase returns where the engine currently sits.
func (e *Engine) Phase() Phase {
	return e.phase.Load().(Phase)
}

// GetProgress returns current cycle progress, nil before the first cycle.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Sync runs one full cycle: drain, reconcile, apply. It returns a report of
// the cycle alongside the error that ended it, if any.
func (e *Engine) Sync(ctx context.Context) (*models.SyncResult, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.syncing = true

	if e.eventsClosed {
		e.events = make(chan Event, 100)
		e.eventsClosed = false
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.cancelFn = nil
		if !e.eventsClosed {
			close(e.events)
			e.eventsClosed = true
		}
		e.mu.Unlock()
	}()

	progress := &Progress{Phase: PhaseDraining, StartTime: time.Now()}
	e.progress.Store(progress)
	e.phase.Store(PhaseDraining)
	e.logger.Info("Starting sync cycle")
	e.emitEvent(Event{Type: EventStarted, Timestamp: time.Now(), Progress: progress})

	result := &models.SyncResult{}

	if err := e.runCycle(ctx, result); err != nil {
		// Operations marked in flight return to the queue so the next
		// cycle can retry them.
		if relErr := e.queue.ReleaseInFlight(); relErr != nil {
			e.logger.WithError(relErr).Warn("Failed to release in-flight operations")
		}
		e.setPhase(PhaseFailed)
		result.Duration = time.Since(progress.StartTime)
		e.emitEvent(Event{Type: EventFailed, Timestamp: time.Now(), Error: err})
		e.logger.WithError(err).Error("Sync cycle failed")
		return result, err
	}

	e.setPhase(PhaseIdle)
	result.Success = true
	result.Duration = time.Since(progress.StartTime)
	e.emitEvent(Event{Type: EventCompleted, Timestamp: time.Now(), Progress: e.GetProgress()})

	e.logger.WithFields(map[string]interface{}{
		"pushed":    result.Processed,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"duration":  result.Duration,
	}).Info("Sync cycle completed")
	return result, nil
}

// Cancel stops an ongoing cycle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFn != nil {
		e.logger.Info("Cancelling sync")
		e.cancelFn()
	}
}

func (e *Engine) runCycle(ctx context.Context, result *models.SyncResult) error {
	if err := e.drain(ctx, result); err != nil {
		return err
	}

	e.setPhase(PhaseReconciling)
	since, err := e.checkpoint.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	changes, err := e.remote.Changes(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch changes: %w", err)
	}
	p := e.bump(func(p *Progress) { p.Pulled = len(changes.Records) })
	e.emitEvent(Event{Type: EventPulled, Timestamp: time.Now(), Progress: p})

	e.setPhase(PhaseApplying)
	for i := range changes.Records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.apply(&changes.Records[i], result); err != nil {
			return fmt.Errorf("apply %s: %w", changes.Records[i].ID, err)
		}
	}

	if err := e.checkpoint.Save(changes.ServerTime); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// drain replays queued operations. Each batch holds at most one operation
// per entity, so operations within a batch are independent and delivered
// concurrently up to maxConcurrent.
func (e *Engine) drain(ctx context.Context, result *models.SyncResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := e.queue.PeekBatch(e.batchSize)
		if err != nil {
			return fmt.Errorf("peek batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		var (
			wg       sync.WaitGroup
			sem      = make(chan struct{}, e.maxConcurrent)
			errMu    sync.Mutex
			fatalErr error
		)
		for _, op := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(op *models.PendingOperation) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := e.deliver(ctx, op, result); err != nil {
					errMu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					errMu.Unlock()
				}
			}(op)
		}
		wg.Wait()

		if fatalErr != nil {
			return fatalErr
		}
	}
}

// deliver replays one operation and settles its bookkeeping. A returned
// error is fatal for the cycle; per-operation failures are absorbed into
// the queue's retry schedule or its dead letters.
func (e *Engine) deliver(ctx context.Context, op *models.PendingOperation, result *models.SyncResult) error {
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	ack, err := e.remote.ApplyOperation(opCtx, op)
	if err != nil {
		if models.IsConflict(err) {
			return e.settleConflict(op, result)
		}
		return e.settleFailure(op, err, result)
	}

	if err := e.queue.Ack(op.ID); err != nil {
		return fmt.Errorf("ack %s: %w", op.ID, err)
	}

	entityID := op.EntityID
	switch op.Type {
	case models.OpCreate:
		// The server assigned the durable ID; rewrite the record and any
		// still-queued operations that reference the temp ID.
		if err := e.store.AssignServerID(op.EntityID, ack.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("assign server id for %s: %w", op.EntityID, err)
		}
		if err := e.queue.RemapEntity(op.EntityID, ack.ID); err != nil {
			return fmt.Errorf("remap %s: %w", op.EntityID, err)
		}
		// A tombstone recorded while the create was in flight still carries
		// the temp ID; rebind it so the delete ack can confirm it.
		if err := e.tombstones.Remap(op.EntityID, ack.ID); err != nil {
			return fmt.Errorf("remap tombstone %s: %w", op.EntityID, err)
		}
		entityID = ack.ID

	case models.OpDelete:
		if err := e.tombstones.MarkConfirmed(op.EntityID); err != nil {
			e.logger.WithError(err).WithField("entity", op.EntityID).Warn("Failed to confirm tombstone")
		}
	}

	if op.Type != models.OpDelete {
		if err := e.markSyncedIfSettled(entityID, ack.ModifiedAt); err != nil {
			return err
		}
	}

	progress := e.bump(func(p *Progress) { p.Pushed++ })
	e.countMu.Lock()
	result.Processed++
	e.countMu.Unlock()
	e.emitEvent(Event{Type: EventOpPushed, Timestamp: time.Now(), EntityID: entityID, Progress: progress})
	return nil
}

// markSyncedIfSettled clears the needs-sync flag once no further operations
// remain queued for the entity. With later operations still pending, the
// record keeps its pending status.
func (e *Engine) markSyncedIfSettled(entityID string, modifiedAt time.Time) error {
	pending, err := e.queue.PendingForEntity(entityID)
	if err != nil {
		return fmt.Errorf("count pending for %s: %w", entityID, err)
	}
	if pending > 0 {
		return nil
	}

	item, err := e.store.Get(entityID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	item.NeedsSync = false
	item.SyncStatus = models.StatusSynced
	if !modifiedAt.IsZero() {
		item.LastModified = modifiedAt
	}
	return e.store.PutSynced(item)
}

// settleConflict parks an entity whose push the server rejected as stale.
// The rejection is an outcome, not a failure: queued operations for the
// entity are frozen and the record waits in conflict status for the user.
// The remote side of the conflict arrives with the pull that follows.
func (e *Engine) settleConflict(op *models.PendingOperation, result *models.SyncResult) error {
	if _, err := e.queue.DiscardEntity(op.EntityID); err != nil {
		return err
	}

	item, err := e.store.Get(op.EntityID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return err
	default:
		item.SyncStatus = models.StatusConflict
		if err := e.store.PutSynced(item); err != nil {
			return err
		}
	}

	cause := &models.ConflictError{EntityType: op.EntityType, EntityID: op.EntityID}
	progress := e.bump(func(p *Progress) { p.Conflicts++ })
	e.countMu.Lock()
	result.Conflicts++
	e.countMu.Unlock()

	e.logger.WithError(cause).WithFields(map[string]interface{}{
		"op_id":  op.ID,
		"entity": op.EntityID,
	}).Warn("Push rejected as stale, holding record for resolution")
	e.emitEvent(Event{Type: EventConflict, Timestamp: time.Now(), EntityID: op.EntityID, Error: cause, Progress: progress})
	return nil
}

// settleFailure absorbs a delivery failure. Authentication failures abort
// the cycle; everything else lands in the queue's retry schedule or its
// dead letters.
func (e *Engine) settleFailure(op *models.PendingOperation, cause error, result *models.SyncResult) error {
	if errors.Is(cause, models.ErrNotAuthenticated) || errors.Is(cause, context.Canceled) {
		// Leave the operation in flight; the cycle releases it on exit.
		return cause
	}

	if err := e.queue.Fail(op.ID, cause); err != nil {
		return fmt.Errorf("record failure for %s: %w", op.ID, err)
	}

	if models.IsPermanent(cause) || op.Exhausted() {
		// Dead-lettered: surface the record itself as failed.
		if item, err := e.store.Get(op.EntityID); err == nil {
			item.SyncStatus = models.StatusFailed
			if putErr := e.store.PutSynced(item); putErr != nil {
				e.logger.WithError(putErr).WithField("entity", op.EntityID).Warn("Failed to mark record failed")
			}
		}
	}

	progress := e.bump(func(p *Progress) { p.Failed++ })
	e.countMu.Lock()
	result.Failed++
	result.AddError(fmt.Errorf("%s %s: %w", op.Type, op.EntityID, cause))
	e.countMu.Unlock()

	e.logger.WithError(cause).WithFields(map[string]interface{}{
		"op_id":  op.ID,
		"entity": op.EntityID,
	}).Warn("Operation delivery failed")
	e.emitEvent(Event{Type: EventOpFailed, Timestamp: time.Now(), EntityID: op.EntityID, Error: cause, Progress: progress})
	return nil
}

// apply folds one remote record into the local store. The tombstone check
// runs before any store write: a record the user deleted never comes back
// through a stale pull.
func (e *Engine) apply(rec *remote.Record, result *models.SyncResult) error {
	tombstoned, err := e.tombstones.IsTombstoned(rec.ID)
	if err != nil {
		return err
	}
	if tombstoned {
		e.logger.WithField("entity", rec.ID).Debug("Skipping tombstoned record")
		return nil
	}

	local, err := e.store.Get(rec.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		local = nil
	case err != nil:
		return err
	}

	if rec.Deleted {
		if local == nil {
			return nil
		}
		if local.NeedsSync {
			// Local edits outlive a remote delete; the queued operations
			// will recreate or conflict server-side on the next drain.
			e.logger.WithField("entity", rec.ID).Debug("Keeping locally modified record over remote delete")
			return nil
		}
		e.bump(func(p *Progress) { p.Applied++ })
		return e.store.Purge(rec.ID)
	}

	// New or locally untouched: fast-forward to the server's version.
	if local == nil || !local.NeedsSync {
		item := &models.SyncableItem{
			ID:           rec.ID,
			EntityType:   rec.EntityType,
			Data:         rec.Data,
			LastModified: rec.ModifiedAt,
			SyncStatus:   models.StatusSynced,
		}
		if local != nil {
			item.TempID = local.TempID
			item.ParentID = local.ParentID
			item.EntryIndex = local.EntryIndex
		}
		e.bump(func(p *Progress) { p.Applied++ })
		return e.store.PutSynced(item)
	}

	if local.SyncStatus == models.StatusConflict {
		// Already parked, frozen until the user resolves. Keep the remote
		// side current for the resolve surface without re-counting.
		local.RemoteData = rec.Data
		return e.store.PutSynced(local)
	}

	if !resolver.Diverged(local, rec.Data) {
		// Same payload both sides; the queued operations will settle it.
		return nil
	}

	outcome, err := resolver.Resolve(local, rec.Data, rec.ModifiedAt, e.policy)
	if err != nil {
		return err
	}
	if outcome.Heuristic {
		e.logger.WithFields(map[string]interface{}{
			"entity": rec.ID,
			"winner": outcome.Source,
		}).Warn("No conflict policy configured, resolved by modification time")
	}

	switch {
	case outcome.Status == models.StatusConflict:
		// Frozen until the user resolves; queued operations for the entity
		// must not race the resolution.
		if _, err := e.queue.DiscardEntity(local.Key()); err != nil {
			return err
		}
		local.RemoteData = rec.Data
		local.SyncStatus = models.StatusConflict
		if err := e.store.PutSynced(local); err != nil {
			return err
		}
		progress := e.bump(func(p *Progress) { p.Conflicts++ })
		e.countMu.Lock()
		result.Conflicts++
		e.countMu.Unlock()
		e.emitEvent(Event{Type: EventConflict, Timestamp: time.Now(), EntityID: rec.ID, Progress: progress})
		return nil

	case outcome.Source == resolver.SourceRemote:
		// Remote wins: queued local operations for this entity are moot.
		if _, err := e.queue.DiscardEntity(local.Key()); err != nil {
			return err
		}
		local.Data = outcome.Winner
		local.RemoteData = nil
		local.LastModified = rec.ModifiedAt
		local.SyncStatus = models.StatusSynced
		local.NeedsSync = false
		e.bump(func(p *Progress) { p.Applied++ })
		return e.store.PutSynced(local)

	default:
		// Local wins: the local payload stands and must reach the server.
		local.Data = outcome.Winner
		local.RemoteData = nil
		local.SyncStatus = models.StatusPending
		if err := e.store.Put(local); err != nil {
			return err
		}
		pending, err := e.queue.PendingForEntity(local.Key())
		if err != nil {
			return err
		}
		if pending == 0 && outcome.PushRequired {
			op := &models.PendingOperation{
				ID:         uuid.NewString(),
				Type:       models.OpUpdate,
				EntityType: local.EntityType,
				EntityID:   local.Key(),
				ParentID:   local.ParentID,
				EntryIndex: local.EntryIndex,
				Data:       outcome.Winner,
				Timestamp:  time.Now().UTC(),
				MaxRetries: 5,
			}
			if err := e.queue.Enqueue(op); err != nil {
				return err
			}
		}
		e.bump(func(p *Progress) { p.Applied++ })
		return nil
	}
}

func (e *Engine) setPhase(phase Phase) {
	e.phase.Store(phase)
	e.bump(func(p *Progress) { p.Phase = phase })
}

// bump copy-updates the published progress and returns the new snapshot.
func (e *Engine) bump(fn func(*Progress)) *Progress {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	cur := e.GetProgress()
	if cur == nil {
		return nil
	}
	next := *cur
	fn(&next)
	e.progress.Store(&next)
	return &next
}

func (e *Engine) emitEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eventsClosed {
		return
	}
	select {
	case e.events <- event:
	default:
		e.logger.Debug("Event channel full, dropping event")
	}
}
