// Package records is the UI-facing facade over the local record store:
// optimistic CRUD with immediate local results, pending-operation enqueueing,
// and the reactive counts the UI renders.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/queue"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
)

// Service wires the record store, the operation queue and the tombstone
// tracker behind one mutation surface. Every mutation lands locally first
// and enqueues its intent; the sync orchestrator drains the queue later.
type Service struct {
	store      store.Store
	queue      queue.Queue
	tombstones tombstone.Tracker
	logger     *events.Logger
	maxRetries int
}

// NewService creates the records facade.
func NewService(s store.Store, q queue.Queue, t tombstone.Tracker, maxRetries int, logger *events.Logger) *Service {
	return &Service{
		store:      s,
		queue:      q,
		tombstones: t,
		logger:     logger.WithField("service", "records"),
		maxRetries: maxRetries,
	}
}

// Counts are the reactive numbers surfaced to the UI. Pending is the single
// authoritative needs-sync metric; conflict and failed items are counted
// separately and never double-counted into it.
type Counts struct {
	Pending   int `json:"pending"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// Create stores a new top-level record optimistically and queues its create.
func (s *Service) Create(entityType models.EntityType, data json.RawMessage) (*models.SyncableItem, error) {
	return s.create(entityType, "", 0, data)
}

// CreateEmbedded stores a new embedded record (fermentation entry, dry-hop
// addition) under its parent brew session.
func (s *Service) CreateEmbedded(entityType models.EntityType, parentID string, entryIndex int, data json.RawMessage) (*models.SyncableItem, error) {
	if parentID == "" {
		return nil, &models.ValidationError{EntityType: entityType, Reason: "parent_id required for embedded entity"}
	}
	return s.create(entityType, parentID, entryIndex, data)
}

func (s *Service) create(entityType models.EntityType, parentID string, entryIndex int, data json.RawMessage) (*models.SyncableItem, error) {
	if err := models.ValidatePayload(entityType, data); err != nil {
		return nil, err
	}
	normalized, err := models.NormalizePayload(entityType, data)
	if err != nil {
		return nil, err
	}

	item := &models.SyncableItem{
		TempID:     models.TempIDPrefix + uuid.NewString(),
		EntityType: entityType,
		ParentID:   parentID,
		EntryIndex: entryIndex,
		Data:       normalized,
		SyncStatus: models.StatusPending,
	}

	if err := s.store.Put(item); err != nil {
		return nil, err
	}

	if err := s.enqueue(models.OpCreate, item, normalized); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"temp_id": item.TempID,
		"type":    entityType,
	}).Debug("Created record")
	return s.store.Get(item.TempID)
}

// Update applies new data to a record. The id may be a temp ID forever; it
// keeps resolving to the server-assigned record after acknowledgment.
func (s *Service) Update(id string, data json.RawMessage) (*models.SyncableItem, error) {
	item, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, fmt.Errorf("update %s: %w", id, models.ErrNotFound)
	}

	if err := models.ValidatePayload(item.EntityType, data); err != nil {
		return nil, err
	}
	normalized, err := models.NormalizePayload(item.EntityType, data)
	if err != nil {
		return nil, err
	}

	item.Data = normalized
	if err := s.store.Put(item); err != nil {
		return nil, err
	}

	if err := s.enqueue(models.OpUpdate, item, normalized); err != nil {
		return nil, err
	}
	return s.store.Get(item.Key())
}

// Delete soft-deletes a record and queues its delete. A record created
// offline and never synced is dropped entirely: the collapsed queue sends
// nothing, and there is nothing on the server to tombstone against.
func (s *Service) Delete(id string) error {
	item, err := s.store.Get(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.enqueue(models.OpDelete, item, nil); err != nil {
		return err
	}

	if item.IsLocalOnly() {
		pending, err := s.queue.PendingForEntity(item.Key())
		if err != nil {
			return err
		}
		if pending == 0 {
			// Create and delete collapsed away; the server never saw it.
			return s.store.Purge(item.Key())
		}
	}

	if err := s.store.MarkDeleted(item.Key(), now); err != nil {
		return err
	}
	if err := s.tombstones.Record(item.EntityType, item.Key(), now); err != nil {
		return err
	}

	s.logger.WithField("id", item.Key()).Debug("Deleted record")
	return nil
}

// Clone duplicates a record as a new unsynced item.
func (s *Service) Clone(id string) (*models.SyncableItem, error) {
	src, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if src.Deleted {
		return nil, fmt.Errorf("clone %s: %w", id, models.ErrNotFound)
	}

	data := cloneWithCopySuffix(src.EntityType, src.Data)
	if src.ParentID != "" {
		return s.CreateEmbedded(src.EntityType, src.ParentID, src.EntryIndex, data)
	}
	return s.Create(src.EntityType, data)
}

// cloneWithCopySuffix marks named payloads as copies so two identical names
// do not collide in lists.
func cloneWithCopySuffix(entityType models.EntityType, data json.RawMessage) json.RawMessage {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	if name, ok := m["name"].(string); ok && name != "" {
		m["name"] = name + " (copy)"
		if out, err := json.Marshal(m); err == nil {
			return out
		}
	}
	return data
}

// GetByID retrieves a record by server ID or temp ID.
func (s *Service) GetByID(id string) (*models.SyncableItem, error) {
	return s.store.Get(id)
}

// List returns live records of one entity type (all types when empty).
func (s *Service) List(entityType models.EntityType) ([]*models.SyncableItem, error) {
	return s.store.List(entityType, false)
}

// Counts returns the reactive UI counts.
func (s *Service) Counts() (*Counts, error) {
	pending, err := s.store.CountNeedsSync()
	if err != nil {
		return nil, err
	}
	conflicts, err := s.store.CountConflicts()
	if err != nil {
		return nil, err
	}
	failed, err := s.queue.FailedOps()
	if err != nil {
		return nil, err
	}

	return &Counts{
		Pending:   pending,
		Conflicts: conflicts,
		Failed:    len(failed),
	}, nil
}

// Conflicts lists items held for manual resolution, each carrying both the
// local payload and the server's version for inspection.
func (s *Service) Conflicts() ([]*models.SyncableItem, error) {
	all, err := s.store.List("", true)
	if err != nil {
		return nil, err
	}

	var out []*models.SyncableItem
	for _, item := range all {
		if item.SyncStatus == models.StatusConflict {
			out = append(out, item)
		}
	}
	return out, nil
}

// ResolveConflict applies the user's choice to a conflicted item.
func (s *Service) ResolveConflict(id string, resolution models.ConflictResolution) error {
	if err := resolution.Validate(); err != nil {
		return err
	}

	item, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if item.SyncStatus != models.StatusConflict {
		return fmt.Errorf("record %s is not in conflict", id)
	}

	switch resolution.Strategy {
	case models.ResolveRemoteWins:
		if len(item.RemoteData) == 0 {
			return fmt.Errorf("record %s has no remote version to apply", id)
		}
		if _, err := s.queue.DiscardEntity(item.Key()); err != nil {
			return err
		}
		item.Data = item.RemoteData
		item.RemoteData = nil
		item.SyncStatus = models.StatusSynced
		item.NeedsSync = false
		return s.store.PutSynced(item)

	case models.ResolveLocalWins, models.ResolveManual:
		chosen := item.Data
		if resolution.Strategy == models.ResolveManual {
			if len(resolution.ResolvedData) == 0 {
				return fmt.Errorf("manual resolution requires resolved data")
			}
			chosen = resolution.ResolvedData
		}
		if err := models.ValidatePayload(item.EntityType, chosen); err != nil {
			return err
		}

		item.Data = chosen
		item.RemoteData = nil
		item.SyncStatus = models.StatusPending
		if err := s.store.Put(item); err != nil {
			return err
		}
		return s.enqueue(models.OpUpdate, item, chosen)

	default:
		return fmt.Errorf("unknown resolution strategy %q", resolution.Strategy)
	}
}

// FailedOperations lists dead-lettered operations for the UI.
func (s *Service) FailedOperations() ([]*models.PendingOperation, error) {
	return s.queue.FailedOps()
}

// RetryFailed returns a dead-lettered operation to the queue.
func (s *Service) RetryFailed(opID string) error {
	return s.queue.Requeue(opID)
}

func (s *Service) enqueue(opType models.OperationType, item *models.SyncableItem, data json.RawMessage) error {
	op := &models.PendingOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		EntityType: item.EntityType,
		EntityID:   item.Key(),
		ParentID:   item.ParentID,
		EntryIndex: item.EntryIndex,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		MaxRetries: s.maxRetries,
	}
	if err := s.queue.Enqueue(op); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", opType, item.Key(), err)
	}
	return nil
}
