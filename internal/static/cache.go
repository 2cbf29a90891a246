// Package static maintains the version-gated cache of shared reference data
// (ingredients, beer styles). Entries never expire on time; they are replaced
// only when the server reports a different version string.
package static

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/remote"
)

// OpenStaticDB opens (or creates) the static-data namespace. It is a
// separate database file from user data so logout can clear one without the
// other.
func OpenStaticDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open static database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// versionFetcher is the slice of the remote client the cache needs.
type versionFetcher interface {
	StaticVersion(ctx context.Context, dataType models.StaticDataType) (*models.StaticDataVersion, error)
	StaticData(ctx context.Context, dataType models.StaticDataType) (*remote.StaticPayload, error)
}

// Cache is the static-data cache service.
type Cache struct {
	db     *sql.DB
	remote versionFetcher
	logger *events.Logger

	// Serializes refreshes per data type; reads go straight to SQLite.
	mu sync.Mutex
}

// NewCache creates the cache over an opened static database.
func NewCache(db *sql.DB, remoteClient versionFetcher, logger *events.Logger) (*Cache, error) {
	c := &Cache{
		db:     db,
		remote: remoteClient,
		logger: logger.WithField("component", "static_cache"),
	}

	schema := `
    CREATE TABLE IF NOT EXISTS static_meta (
        data_type TEXT PRIMARY KEY,
        version TEXT NOT NULL,
        last_modified TIMESTAMP,
        total_records INTEGER NOT NULL DEFAULT 0,
        cached_at TIMESTAMP NOT NULL
    );

    CREATE TABLE IF NOT EXISTS static_records (
        data_type TEXT NOT NULL,
        idx INTEGER NOT NULL,
        data BLOB NOT NULL,
        PRIMARY KEY (data_type, idx)
    );
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize static cache: %w", &models.StorageError{Op: "create schema", Err: err})
	}
	return c, nil
}

// CachedVersion returns the locally cached version string for a dataset, or
// ok=false when nothing is cached.
func (c *Cache) CachedVersion(dataType models.StaticDataType) (string, bool, error) {
	var version string
	err := c.db.QueryRow(`SELECT version FROM static_meta WHERE data_type = ?`, string(dataType)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &models.StorageError{Op: "cached version", Key: string(dataType), Err: err}
	}
	return version, true, nil
}

// IsStale compares the cached version against the server's current version.
// An uncached dataset is always stale.
func (c *Cache) IsStale(ctx context.Context, dataType models.StaticDataType) (bool, error) {
	cached, ok, err := c.CachedVersion(dataType)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	current, err := c.remote.StaticVersion(ctx, dataType)
	if err != nil {
		return false, err
	}
	return cached != current.Version, nil
}

// Refresh re-fetches and overwrites a dataset when its version has drifted.
// It is idempotent: a matching version is a no-op. The replacement happens in
// one transaction, so concurrent reads see either the old or the new array
// in full, never a mix.
func (c *Cache) Refresh(ctx context.Context, dataType models.StaticDataType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale, err := c.IsStale(ctx, dataType)
	if err != nil {
		return err
	}
	if !stale {
		c.logger.WithField("data_type", dataType).Debug("Static cache current, skipping refresh")
		return nil
	}

	payload, err := c.remote.StaticData(ctx, dataType)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", dataType, err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return &models.StorageError{Op: "refresh begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM static_records WHERE data_type = ?`, string(dataType)); err != nil {
		return &models.StorageError{Op: "refresh clear", Key: string(dataType), Err: err}
	}

	for i, record := range payload.Records {
		if _, err := tx.Exec(`
            INSERT INTO static_records (data_type, idx, data) VALUES (?, ?, ?)
        `, string(dataType), i, []byte(record)); err != nil {
			return &models.StorageError{Op: "refresh insert", Key: string(dataType), Err: err}
		}
	}

	if _, err := tx.Exec(`
        INSERT INTO static_meta (data_type, version, last_modified, total_records, cached_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(data_type) DO UPDATE SET
            version = excluded.version,
            last_modified = excluded.last_modified,
            total_records = excluded.total_records,
            cached_at = excluded.cached_at
    `, string(dataType), payload.Version, payload.LastModified, len(payload.Records), time.Now().UTC()); err != nil {
		return &models.StorageError{Op: "refresh meta", Key: string(dataType), Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "refresh commit", Err: err}
	}

	c.logger.WithFields(map[string]interface{}{
		"data_type": dataType,
		"version":   payload.Version,
		"records":   len(payload.Records),
	}).Info("Static cache refreshed")
	return nil
}

// records reads the full cached array for a dataset in one query.
func (c *Cache) records(dataType models.StaticDataType) ([]json.RawMessage, error) {
	rows, err := c.db.Query(`
        SELECT data FROM static_records WHERE data_type = ? ORDER BY idx
    `, string(dataType))
	if err != nil {
		return nil, &models.StorageError{Op: "read cache", Key: string(dataType), Err: err}
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &models.StorageError{Op: "read cache scan", Key: string(dataType), Err: err}
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Ingredients returns the cached ingredient catalog.
func (c *Cache) Ingredients() ([]models.Ingredient, error) {
	raw, err := c.records(models.StaticIngredients)
	if err != nil {
		return nil, err
	}

	out := make([]models.Ingredient, 0, len(raw))
	for _, data := range raw {
		var ing models.Ingredient
		if err := json.Unmarshal(data, &ing); err != nil {
			return nil, fmt.Errorf("decode ingredient: %w", err)
		}
		out = append(out, ing)
	}
	return out, nil
}

// Styles returns the cached beer style catalog.
func (c *Cache) Styles() ([]models.BeerStyle, error) {
	raw, err := c.records(models.StaticBeerStyles)
	if err != nil {
		return nil, err
	}

	out := make([]models.BeerStyle, 0, len(raw))
	for _, data := range raw {
		var style models.BeerStyle
		if err := json.Unmarshal(data, &style); err != nil {
			return nil, fmt.Errorf("decode beer style: %w", err)
		}
		out = append(out, style)
	}
	return out, nil
}

// Stats summarizes the cache for the UI.
func (c *Cache) Stats() (*models.CacheStats, error) {
	rows, err := c.db.Query(`
        SELECT data_type, version, total_records, cached_at FROM static_meta ORDER BY data_type
    `)
	if err != nil {
		return nil, &models.StorageError{Op: "cache stats", Err: err}
	}
	defer rows.Close()

	stats := &models.CacheStats{}
	for rows.Next() {
		var entry models.CacheEntryStats
		var dataType string
		if err := rows.Scan(&dataType, &entry.Version, &entry.TotalRecords, &entry.CachedAt); err != nil {
			return nil, &models.StorageError{Op: "cache stats scan", Err: err}
		}
		entry.DataType = models.StaticDataType(dataType)
		stats.Entries = append(stats.Entries, entry)
	}
	return stats, rows.Err()
}

// CleanupStale refreshes any dataset whose version has drifted. It runs as a
// pre-pass before pull-to-refresh syncs; callers swallow and log its error
// so a failed cleanup never blocks a sync attempt.
func (c *Cache) CleanupStale(ctx context.Context) error {
	for _, dataType := range models.StaticDataTypes {
		if err := c.Refresh(ctx, dataType); err != nil {
			return fmt.Errorf("cleanup %s: %w", dataType, err)
		}
	}
	return nil
}
