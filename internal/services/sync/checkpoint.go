package sync

import (
	"database/sql"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
)

// Checkpoint persists the high-water mark of the last completed
// reconciliation. The next delta fetch asks the server for changes since
// this time.
type Checkpoint interface {
	Load() (time.Time, error)
	Save(t time.Time) error
}

// SQLiteCheckpoint stores the checkpoint in the user-data database.
type SQLiteCheckpoint struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteCheckpoint creates the checkpoint store over an opened user
// database.
func NewSQLiteCheckpoint(db *sql.DB, logger *events.Logger) (*SQLiteCheckpoint, error) {
	cp := &SQLiteCheckpoint{
		db:     db,
		logger: logger.WithField("component", "checkpoint"),
	}
	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS sync_meta (
            key   TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )
    `); err != nil {
		return nil, &models.StorageError{Op: "init", Key: "sync_meta", Err: err}
	}
	return cp, nil
}

// Load returns the last-sync time, zero when no sync has completed yet.
func (c *SQLiteCheckpoint) Load() (time.Time, error) {
	var raw string
	err := c.db.QueryRow(`SELECT value FROM sync_meta WHERE key = 'last_sync'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &models.StorageError{Op: "load", Key: "last_sync", Err: err}
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &models.StorageError{Op: "load", Key: "last_sync", Err: err}
	}
	return t, nil
}

// Save records the last-sync time.
func (c *SQLiteCheckpoint) Save(t time.Time) error {
	_, err := c.db.Exec(`
        INSERT INTO sync_meta (key, value) VALUES ('last_sync', ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &models.StorageError{Op: "save", Key: "last_sync", Err: err}
	}
	return nil
}
