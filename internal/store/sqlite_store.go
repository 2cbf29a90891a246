package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
)

// SQLiteStore implements Store on the user-data database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger

	// Per-record write serialization.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore creates a record store over an opened user database.
func NewSQLiteStore(db *sql.DB, logger *events.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "record_store"),
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("initialize record store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS records (
        key TEXT PRIMARY KEY,
        temp_id TEXT,
        entity_type TEXT NOT NULL,
        parent_id TEXT,
        entry_index INTEGER,
        data BLOB,
        remote_data BLOB,
        last_modified TIMESTAMP NOT NULL,
        sync_status TEXT NOT NULL,
        needs_sync INTEGER NOT NULL DEFAULT 0,
        is_deleted INTEGER NOT NULL DEFAULT 0,
        deleted_at TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_records_temp ON records(temp_id);
    CREATE INDEX IF NOT EXISTS idx_records_type ON records(entity_type);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return &models.StorageError{Op: "create schema", Err: err}
	}
	return nil
}

// lockFor returns the write lock for a record key.
func (s *SQLiteStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// Get retrieves an item by server ID or temp ID.
func (s *SQLiteStore) Get(id string) (*models.SyncableItem, error) {
	row := s.db.QueryRow(`
        SELECT key, temp_id, entity_type, parent_id, entry_index, data, remote_data,
               last_modified, sync_status, needs_sync, is_deleted, deleted_at
        FROM records
        WHERE key = ? OR temp_id = ?
    `, id, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get", Key: id, Err: err}
	}
	return item, nil
}

// List returns items, excluding tombstones unless asked.
func (s *SQLiteStore) List(entityType models.EntityType, includeDeleted bool) ([]*models.SyncableItem, error) {
	query := `
        SELECT key, temp_id, entity_type, parent_id, entry_index, data, remote_data,
               last_modified, sync_status, needs_sync, is_deleted, deleted_at
        FROM records WHERE 1=1`
	args := []interface{}{}

	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, string(entityType))
	}
	if !includeDeleted {
		query += " AND is_deleted = 0"
	}
	query += " ORDER BY last_modified DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var items []*models.SyncableItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list scan", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list iterate", Err: err}
	}
	return items, nil
}

// Put stores a local mutation.
func (s *SQLiteStore) Put(item *models.SyncableItem) error {
	stamped := item.Clone()
	stamped.NeedsSync = true
	stamped.LastModified = time.Now().UTC()
	if stamped.SyncStatus == "" || stamped.SyncStatus == models.StatusSynced {
		stamped.SyncStatus = models.StatusPending
	}
	return s.write(stamped)
}

// PutSynced stores a server-confirmed item without touching its metadata.
func (s *SQLiteStore) PutSynced(item *models.SyncableItem) error {
	return s.write(item)
}

func (s *SQLiteStore) write(item *models.SyncableItem) error {
	if err := item.Validate(); err != nil {
		return &models.StorageError{Op: "put", Key: item.Key(), Err: err}
	}

	lock := s.lockFor(item.Key())
	lock.Lock()
	defer lock.Unlock()

	var deletedAt interface{}
	if !item.DeletedAt.IsZero() {
		deletedAt = item.DeletedAt
	}

	_, err := s.db.Exec(`
        INSERT INTO records
            (key, temp_id, entity_type, parent_id, entry_index, data, remote_data,
             last_modified, sync_status, needs_sync, is_deleted, deleted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            temp_id = excluded.temp_id,
            entity_type = excluded.entity_type,
            parent_id = excluded.parent_id,
            entry_index = excluded.entry_index,
            data = excluded.data,
            remote_data = excluded.remote_data,
            last_modified = excluded.last_modified,
            sync_status = excluded.sync_status,
            needs_sync = excluded.needs_sync,
            is_deleted = excluded.is_deleted,
            deleted_at = excluded.deleted_at
    `, item.Key(), item.TempID, string(item.EntityType), item.ParentID, item.EntryIndex,
		[]byte(item.Data), []byte(item.RemoteData),
		item.LastModified, string(item.SyncStatus), item.NeedsSync, item.Deleted, deletedAt)

	if err != nil {
		return &models.StorageError{Op: "put", Key: item.Key(), Err: err}
	}

	s.logger.WithFields(map[string]interface{}{
		"key":        item.Key(),
		"type":       item.EntityType,
		"status":     item.SyncStatus,
		"needs_sync": item.NeedsSync,
	}).Debug("Stored record")
	return nil
}

// MarkDeleted soft-deletes an item.
func (s *SQLiteStore) MarkDeleted(id string, at time.Time) error {
	item, err := s.Get(id)
	if err != nil {
		return err
	}

	lock := s.lockFor(item.Key())
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.Exec(`
        UPDATE records
        SET is_deleted = 1, deleted_at = ?, needs_sync = 1,
            sync_status = ?, last_modified = ?
        WHERE key = ?
    `, at, string(models.StatusPending), time.Now().UTC(), item.Key())
	if err != nil {
		return &models.StorageError{Op: "mark deleted", Key: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AssignServerID rebinds a temp-ID record to its server identity.
func (s *SQLiteStore) AssignServerID(tempID, serverID string) error {
	lock := s.lockFor(tempID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.Exec(`
        UPDATE records SET key = ?, temp_id = ?
        WHERE key = ? OR temp_id = ?
    `, serverID, tempID, tempID, tempID)
	if err != nil {
		return &models.StorageError{Op: "assign server id", Key: tempID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	s.logger.WithFields(map[string]interface{}{
		"temp_id":   tempID,
		"server_id": serverID,
	}).Debug("Assigned server ID")
	return nil
}

// Purge removes an item entirely.
func (s *SQLiteStore) Purge(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec("DELETE FROM records WHERE key = ? OR temp_id = ?", id, id)
	if err != nil {
		return &models.StorageError{Op: "purge", Key: id, Err: err}
	}
	return nil
}

// CountNeedsSync counts items with outstanding local changes. Conflict and
// failed items are excluded: they are surfaced through their own counts.
func (s *SQLiteStore) CountNeedsSync() (int, error) {
	var n int
	err := s.db.QueryRow(`
        SELECT COUNT(*) FROM records
        WHERE needs_sync = 1 AND sync_status NOT IN (?, ?)
    `, string(models.StatusConflict), string(models.StatusFailed)).Scan(&n)
	if err != nil {
		return 0, &models.StorageError{Op: "count needs_sync", Err: err}
	}
	return n, nil
}

// CountConflicts counts items awaiting resolution.
func (s *SQLiteStore) CountConflicts() (int, error) {
	var n int
	err := s.db.QueryRow(`
        SELECT COUNT(*) FROM records WHERE sync_status = ?
    `, string(models.StatusConflict)).Scan(&n)
	if err != nil {
		return 0, &models.StorageError{Op: "count conflicts", Err: err}
	}
	return n, nil
}

// Close releases the store's lock table. The shared database handle is owned
// by the caller.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = make(map[string]*sync.Mutex)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.SyncableItem, error) {
	var item models.SyncableItem
	var key, entityType, status string
	var tempID, parentID sql.NullString
	var entryIndex sql.NullInt64
	var data, remoteData []byte
	var deletedAt sql.NullTime

	err := row.Scan(&key, &tempID, &entityType, &parentID, &entryIndex, &data, &remoteData,
		&item.LastModified, &status, &item.NeedsSync, &item.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}

	if tempID.Valid {
		item.TempID = tempID.String
	}
	if parentID.Valid {
		item.ParentID = parentID.String
	}
	if entryIndex.Valid {
		item.EntryIndex = int(entryIndex.Int64)
	}
	if key != item.TempID {
		item.ID = key
	}
	item.EntityType = models.EntityType(entityType)
	item.SyncStatus = models.SyncStatus(status)
	if len(data) > 0 {
		item.Data = data
	}
	if len(remoteData) > 0 {
		item.RemoteData = remoteData
	}
	if deletedAt.Valid {
		item.DeletedAt = deletedAt.Time
	}
	return &item, nil
}
