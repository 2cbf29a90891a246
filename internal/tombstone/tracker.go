package tombstone

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
)

// Tracker records deleted entities so a stale remote pull cannot resurrect
// them. A tombstone is live from the moment of deletion until the server has
// confirmed the delete and a cleanup pass removes it.
type Tracker interface {
	// Record marks an entity as deleted.
	Record(entityType models.EntityType, entityID string, deletedAt time.Time) error

	// IsTombstoned reports whether an entity has a live tombstone.
	IsTombstoned(entityID string) (bool, error)

	// MarkConfirmed notes that the server acknowledged the delete.
	MarkConfirmed(entityID string) error

	// Remap rebinds a tombstone recorded under a temp ID to the
	// server-assigned ID. Missing tombstones are not an error; most
	// creates are never deleted mid-flight.
	Remap(tempID, serverID string) error

	// Cleanup removes confirmed tombstones and reports what it removed.
	Cleanup() (*CleanupResult, error)

	// All lists live tombstones.
	All() ([]*Tombstone, error)
}

// Tombstone is one deletion marker.
type Tombstone struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	DeletedAt  time.Time         `json:"deleted_at"`
	Confirmed  bool              `json:"confirmed"`
}

// CleanupResult reports a cleanup pass.
type CleanupResult struct {
	Removed int      `json:"removed"`
	IDs     []string `json:"ids,omitempty"`
}

// SQLiteTracker implements Tracker on the user-data database.
type SQLiteTracker struct {
	db     *sql.DB
	logger *events.Logger
	mu     sync.Mutex
}

// NewSQLiteTracker creates the tracker over an opened user database.
func NewSQLiteTracker(db *sql.DB, logger *events.Logger) (*SQLiteTracker, error) {
	tr := &SQLiteTracker{
		db:     db,
		logger: logger.WithField("component", "tombstones"),
	}

	schema := `
    CREATE TABLE IF NOT EXISTS tombstones (
        entity_id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        deleted_at TIMESTAMP NOT NULL,
        confirmed INTEGER NOT NULL DEFAULT 0
    );
    `
	if _, err := tr.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize tombstones: %w", &models.StorageError{Op: "create schema", Err: err})
	}
	return tr, nil
}

// Record marks an entity as deleted. Re-recording an existing tombstone
// refreshes the deletion time and resets confirmation.
func (tr *SQLiteTracker) Record(entityType models.EntityType, entityID string, deletedAt time.Time) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	_, err := tr.db.Exec(`
        INSERT INTO tombstones (entity_id, entity_type, deleted_at, confirmed)
        VALUES (?, ?, ?, 0)
        ON CONFLICT(entity_id) DO UPDATE SET
            deleted_at = excluded.deleted_at,
            confirmed = 0
    `, entityID, string(entityType), deletedAt)
	if err != nil {
		return &models.StorageError{Op: "record tombstone", Key: entityID, Err: err}
	}

	tr.logger.WithFields(map[string]interface{}{
		"entity_id": entityID,
		"type":      entityType,
	}).Debug("Recorded tombstone")
	return nil
}

// IsTombstoned reports whether an entity has a live tombstone.
func (tr *SQLiteTracker) IsTombstoned(entityID string) (bool, error) {
	var n int
	err := tr.db.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE entity_id = ?`, entityID).Scan(&n)
	if err != nil {
		return false, &models.StorageError{Op: "tombstone check", Key: entityID, Err: err}
	}
	return n > 0, nil
}

// MarkConfirmed notes server acknowledgment of the delete.
func (tr *SQLiteTracker) MarkConfirmed(entityID string) error {
	res, err := tr.db.Exec(`UPDATE tombstones SET confirmed = 1 WHERE entity_id = ?`, entityID)
	if err != nil {
		return &models.StorageError{Op: "confirm tombstone", Key: entityID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Remap rebinds a tombstone from a temp ID to the server-assigned ID. A
// record deleted while its create was still in flight leaves its tombstone
// under the temp ID; without the rebind the delete ack could never confirm
// it and cleanup would never sweep it.
func (tr *SQLiteTracker) Remap(tempID, serverID string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	_, err := tr.db.Exec(`UPDATE tombstones SET entity_id = ? WHERE entity_id = ?`, serverID, tempID)
	if err != nil {
		return &models.StorageError{Op: "remap tombstone", Key: tempID, Err: err}
	}
	return nil
}

// Cleanup removes confirmed tombstones. Unconfirmed tombstones stay live so
// the resurrection guard keeps holding until the server agrees the entity is
// gone.
func (tr *SQLiteTracker) Cleanup() (*CleanupResult, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	rows, err := tr.db.Query(`SELECT entity_id FROM tombstones WHERE confirmed = 1`)
	if err != nil {
		return nil, &models.StorageError{Op: "cleanup scan", Err: err}
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &models.StorageError{Op: "cleanup scan", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &models.StorageError{Op: "cleanup iterate", Err: err}
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := tr.db.Exec(`DELETE FROM tombstones WHERE confirmed = 1`); err != nil {
			return nil, &models.StorageError{Op: "cleanup delete", Err: err}
		}
		tr.logger.WithField("removed", len(ids)).Info("Cleaned up confirmed tombstones")
	}

	return &CleanupResult{Removed: len(ids), IDs: ids}, nil
}

// All lists live tombstones.
func (tr *SQLiteTracker) All() ([]*Tombstone, error) {
	rows, err := tr.db.Query(`
        SELECT entity_id, entity_type, deleted_at, confirmed FROM tombstones ORDER BY deleted_at
    `)
	if err != nil {
		return nil, &models.StorageError{Op: "list tombstones", Err: err}
	}
	defer rows.Close()

	var stones []*Tombstone
	for rows.Next() {
		var ts Tombstone
		var entityType string
		if err := rows.Scan(&ts.EntityID, &entityType, &ts.DeletedAt, &ts.Confirmed); err != nil {
			return nil, &models.StorageError{Op: "list tombstones scan", Err: err}
		}
		ts.EntityType = models.EntityType(entityType)
		stones = append(stones, &ts)
	}
	return stones, rows.Err()
}
