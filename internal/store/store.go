package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brewvault/brewsync/internal/models"
)

// Store is the local record store: durable, typed records wrapped with sync
// metadata. Lookups accept either the server-assigned ID or the client temp
// ID; once a server ID exists the temp ID keeps resolving to the same record.
type Store interface {
	// Get retrieves an item by server ID or temp ID.
	Get(id string) (*models.SyncableItem, error)

	// List returns items of one entity type, or all types when entityType is
	// empty. Tombstoned items are excluded unless includeDeleted is set.
	List(entityType models.EntityType, includeDeleted bool) ([]*models.SyncableItem, error)

	// Put stores a local mutation: sets NeedsSync, bumps LastModified.
	Put(item *models.SyncableItem) error

	// PutSynced stores a server-confirmed item verbatim. Only the sync
	// orchestrator calls this after a successful round-trip.
	PutSynced(item *models.SyncableItem) error

	// MarkDeleted soft-deletes an item, leaving a tombstoned record behind.
	MarkDeleted(id string, at time.Time) error

	// AssignServerID rebinds a never-synced item to its server identity.
	// The temp ID is retained for replay matching.
	AssignServerID(tempID, serverID string) error

	// Purge removes an item entirely. Used by tombstone cleanup only.
	Purge(id string) error

	// CountNeedsSync counts items with outstanding local changes, excluding
	// items parked in conflict or failed status.
	CountNeedsSync() (int, error)

	// CountConflicts counts items awaiting manual resolution.
	CountConflicts() (int, error)

	// Close releases resources.
	Close() error
}

// OpenUserDB opens (or creates) the user-data namespace: records, pending
// operations and tombstones share one database file so logout can clear them
// together without touching static data.
func OpenUserDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=on")
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}
	// Serialize writers; SQLite handles one writer at a time anyway and a
	// single connection avoids SQLITE_BUSY churn under concurrent mutation.
	db.SetMaxOpenConns(1)
	return db, nil
}
