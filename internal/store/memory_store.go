package store

import (
	"sort"
	"sync"
	"time"

	"github.com/brewvault/brewsync/internal/models"
)

// MemoryStore implements Store in memory for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*models.SyncableItem // by canonical key
	temps map[string]string               // temp ID -> canonical key
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*models.SyncableItem),
		temps: make(map[string]string),
	}
}

func (s *MemoryStore) resolve(id string) (*models.SyncableItem, bool) {
	if item, ok := s.items[id]; ok {
		return item, true
	}
	if key, ok := s.temps[id]; ok {
		item, ok := s.items[key]
		return item, ok
	}
	return nil, false
}

// Get retrieves an item by server ID or temp ID.
func (s *MemoryStore) Get(id string) (*models.SyncableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.resolve(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	return item.Clone(), nil
}

// List returns items, excluding tombstones unless asked.
func (s *MemoryStore) List(entityType models.EntityType, includeDeleted bool) ([]*models.SyncableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*models.SyncableItem
	for _, item := range s.items {
		if entityType != "" && item.EntityType != entityType {
			continue
		}
		if item.Deleted && !includeDeleted {
			continue
		}
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastModified.After(items[j].LastModified)
	})
	return items, nil
}

// Put stores a local mutation.
func (s *MemoryStore) Put(item *models.SyncableItem) error {
	stamped := item.Clone()
	stamped.NeedsSync = true
	stamped.LastModified = time.Now().UTC()
	if stamped.SyncStatus == "" || stamped.SyncStatus == models.StatusSynced {
		stamped.SyncStatus = models.StatusPending
	}
	return s.write(stamped)
}

// PutSynced stores a server-confirmed item verbatim.
func (s *MemoryStore) PutSynced(item *models.SyncableItem) error {
	return s.write(item.Clone())
}

func (s *MemoryStore) write(item *models.SyncableItem) error {
	if err := item.Validate(); err != nil {
		return &models.StorageError{Op: "put", Key: item.Key(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.Key()] = item
	if item.TempID != "" && item.TempID != item.Key() {
		s.temps[item.TempID] = item.Key()
	}
	return nil
}

// MarkDeleted soft-deletes an item.
func (s *MemoryStore) MarkDeleted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.resolve(id)
	if !ok {
		return models.ErrNotFound
	}
	item.Deleted = true
	item.DeletedAt = at
	item.NeedsSync = true
	item.SyncStatus = models.StatusPending
	item.LastModified = time.Now().UTC()
	return nil
}

// AssignServerID rebinds a temp-ID record to its server identity.
func (s *MemoryStore) AssignServerID(tempID, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.resolve(tempID)
	if !ok {
		return models.ErrNotFound
	}
	delete(s.items, item.Key())
	item.ID = serverID
	item.TempID = tempID
	s.items[serverID] = item
	s.temps[tempID] = serverID
	return nil
}

// Purge removes an item entirely.
func (s *MemoryStore) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.resolve(id)
	if !ok {
		return nil
	}
	delete(s.items, item.Key())
	if item.TempID != "" {
		delete(s.temps, item.TempID)
	}
	return nil
}

// CountNeedsSync counts items with outstanding local changes.
func (s *MemoryStore) CountNeedsSync() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if item.NeedsSync && item.SyncStatus != models.StatusConflict && item.SyncStatus != models.StatusFailed {
			n++
		}
	}
	return n, nil
}

// CountConflicts counts items awaiting resolution.
func (s *MemoryStore) CountConflicts() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if item.SyncStatus == models.StatusConflict {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
