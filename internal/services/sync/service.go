package sync

import (
	"context"
	"errors"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/static"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
	"github.com/brewvault/brewsync/internal/transport"
)

// Service drives the engine: it runs cycles on the triggers the transport
// reports, cleans up confirmed tombstones after each cycle, and exposes the
// pull-to-refresh entry point.
type Service struct {
	engine     *Engine
	store      store.Store
	tombstones tombstone.Tracker
	static     *static.Cache
	transport  transport.Transport
	checkpoint Checkpoint
	logger     *events.Logger

	interval time.Duration
}

// NewService creates the sync service around an engine.
func NewService(
	engine *Engine,
	st store.Store,
	tr tombstone.Tracker,
	cache *static.Cache,
	t transport.Transport,
	cp Checkpoint,
	interval time.Duration,
	logger *events.Logger,
) *Service {
	return &Service{
		engine:     engine,
		store:      st,
		tombstones: tr,
		static:     cache,
		transport:  t,
		checkpoint: cp,
		logger:     logger.WithField("service", "sync"),
		interval:   interval,
	}
}

// Sync runs one cycle and then sweeps confirmed tombstones. Cleanup failures
// are logged, never propagated: the cycle's outcome stands on its own.
func (s *Service) Sync(ctx context.Context) (*models.SyncResult, error) {
	if !s.transport.Online() {
		return nil, models.ErrOffline
	}

	result, err := s.engine.Sync(ctx)
	if err != nil {
		return result, err
	}

	s.cleanupTombstones()
	return result, nil
}

// Refresh is the pull-to-refresh path: revalidate the static caches, then
// run a full cycle. A failed static refresh degrades to cached data and does
// not block the sync.
func (s *Service) Refresh(ctx context.Context) (*models.SyncResult, error) {
	if !s.transport.Online() {
		return nil, models.ErrOffline
	}

	if s.static != nil {
		if err := s.static.CleanupStale(ctx); err != nil {
			s.logger.WithError(err).Warn("Static data refresh failed, serving cached")
		}
	}
	return s.Sync(ctx)
}

// Run reacts to network signals until the context ends: a cycle on
// reconnect when local changes are waiting, a cycle on server change
// pushes, and a periodic cycle while connected.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-s.transport.Notifications():
			if !ok {
				return nil
			}
			switch n.Kind {
			case transport.NoteConnected:
				pending, err := s.store.CountNeedsSync()
				if err != nil {
					s.logger.WithError(err).Warn("Failed to count pending changes")
					continue
				}
				if pending > 0 {
					s.logger.WithField("pending", pending).Info("Reconnected with local changes, syncing")
					s.runCycle(ctx)
				}
			case transport.NoteRemoteChange:
				s.logger.Info("Server reported remote changes, syncing")
				s.runCycle(ctx)
			}

		case <-ticker.C:
			if s.transport.Online() {
				s.runCycle(ctx)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	_, err := s.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrSyncInProgress), errors.Is(err, models.ErrOffline):
		s.logger.WithError(err).Debug("Skipping sync cycle")
	default:
		s.logger.WithError(err).Error("Sync cycle failed")
	}
}

// cleanupTombstones sweeps tombstones the server has confirmed, removing
// the soft-deleted records behind them.
func (s *Service) cleanupTombstones() {
	result, err := s.tombstones.Cleanup()
	if err != nil {
		s.logger.WithError(err).Warn("Tombstone cleanup failed")
		return
	}
	for _, id := range result.IDs {
		if err := s.store.Purge(id); err != nil {
			s.logger.WithError(err).WithField("entity", id).Warn("Failed to purge deleted record")
		}
	}
	if result.Removed > 0 {
		s.logger.WithField("removed", result.Removed).Debug("Cleaned up confirmed tombstones")
	}
}

// LastSync returns when the last cycle completed, zero before the first.
func (s *Service) LastSync() (time.Time, error) {
	return s.checkpoint.Load()
}

// GetProgress returns the engine's current progress.
func (s *Service) GetProgress() *Progress {
	return s.engine.GetProgress()
}

// Events returns the engine's event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Cancel stops an ongoing cycle.
func (s *Service) Cancel() {
	s.engine.Cancel()
}
