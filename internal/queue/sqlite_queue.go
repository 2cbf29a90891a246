package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
)

// SQLiteQueue implements Queue on the user-data database, alongside the
// record store.
type SQLiteQueue struct {
	db      *sql.DB
	logger  *events.Logger
	backoff BackoffConfig

	// Enqueue/collapse is a read-modify-write; serialize it.
	mu sync.Mutex
}

// NewSQLiteQueue creates the queue over an opened user database.
func NewSQLiteQueue(db *sql.DB, backoff BackoffConfig, logger *events.Logger) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:      db,
		logger:  logger.WithField("component", "op_queue"),
		backoff: backoff,
	}

	if err := q.initialize(); err != nil {
		return nil, fmt.Errorf("initialize operation queue: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS pending_ops (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        type TEXT NOT NULL,
        entity_type TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        parent_id TEXT,
        entry_index INTEGER,
        data BLOB,
        timestamp TIMESTAMP NOT NULL,
        retry_count INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL,
        next_attempt TIMESTAMP,
        state TEXT NOT NULL DEFAULT 'queued',
        last_error TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_pending_ops_entity ON pending_ops(entity_id, seq);
    CREATE INDEX IF NOT EXISTS idx_pending_ops_state ON pending_ops(state);
    `

	if _, err := q.db.Exec(schema); err != nil {
		return &models.StorageError{Op: "create queue schema", Err: err}
	}
	return nil
}

// Enqueue appends an operation, applying the collapsing rule.
func (q *SQLiteQueue) Enqueue(op *models.PendingOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return &models.StorageError{Op: "enqueue begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if op.Type == models.OpDelete {
		// A delete supersedes everything still queued for this entity.
		var creates int
		err = tx.QueryRow(`
            SELECT COUNT(*) FROM pending_ops
            WHERE entity_id = ? AND state = 'queued' AND type = 'create'
        `, op.EntityID).Scan(&creates)
		if err != nil {
			return &models.StorageError{Op: "enqueue collapse check", Err: err}
		}

		res, err := tx.Exec(`
            DELETE FROM pending_ops WHERE entity_id = ? AND state = 'queued'
        `, op.EntityID)
		if err != nil {
			return &models.StorageError{Op: "enqueue collapse", Err: err}
		}
		dropped, _ := res.RowsAffected()

		if creates > 0 {
			// Created and deleted before ever syncing: the server never saw
			// this entity, so nothing goes on the wire.
			if err := tx.Commit(); err != nil {
				return &models.StorageError{Op: "enqueue commit", Err: err}
			}
			q.logger.WithFields(map[string]interface{}{
				"entity_id": op.EntityID,
				"dropped":   dropped,
			}).Debug("Collapsed never-synced create+delete to nothing")
			return nil
		}

		if dropped > 0 {
			q.logger.WithFields(map[string]interface{}{
				"entity_id": op.EntityID,
				"dropped":   dropped,
			}).Debug("Delete collapsed queued operations")
		}
	}

	if err := insertOp(tx, op); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "enqueue commit", Err: err}
	}

	q.logger.WithFields(map[string]interface{}{
		"op_id":     op.ID,
		"type":      op.Type,
		"entity_id": op.EntityID,
	}).Debug("Enqueued operation")
	return nil
}

func insertOp(tx *sql.Tx, op *models.PendingOperation) error {
	var parentID interface{}
	if op.ParentID != "" {
		parentID = op.ParentID
	}
	var nextAttempt interface{}
	if !op.NextAttempt.IsZero() {
		nextAttempt = op.NextAttempt
	}

	_, err := tx.Exec(`
        INSERT INTO pending_ops
            (id, type, entity_type, entity_id, parent_id, entry_index,
             data, timestamp, retry_count, max_retries, next_attempt, state, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?)
    `, op.ID, string(op.Type), string(op.EntityType), op.EntityID, parentID, op.EntryIndex,
		[]byte(op.Data), op.Timestamp, op.RetryCount, op.MaxRetries, nextAttempt, op.LastError)
	if err != nil {
		return &models.StorageError{Op: "enqueue insert", Key: op.ID, Err: err}
	}
	return nil
}

// PeekBatch returns up to n ready operations, one per entity, marking them
// in flight.
func (q *SQLiteQueue) PeekBatch(n int) ([]*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return nil, &models.StorageError{Op: "peek begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Head of each entity's FIFO, ready by backoff schedule, skipping
	// entities that already have an operation in flight.
	rows, err := tx.Query(`
        SELECT seq, id, type, entity_type, entity_id, parent_id, entry_index,
               data, timestamp, retry_count, max_retries, next_attempt, state, last_error
        FROM pending_ops p
        WHERE state = 'queued'
          AND (next_attempt IS NULL OR next_attempt <= ?)
          AND seq = (SELECT MIN(seq) FROM pending_ops
                     WHERE entity_id = p.entity_id AND state IN ('queued', 'in_flight'))
        ORDER BY seq
        LIMIT ?
    `, time.Now().UTC(), n)
	if err != nil {
		return nil, &models.StorageError{Op: "peek", Err: err}
	}

	var ops []*models.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			rows.Close()
			return nil, &models.StorageError{Op: "peek scan", Err: err}
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &models.StorageError{Op: "peek iterate", Err: err}
	}
	rows.Close()

	for _, op := range ops {
		if _, err := tx.Exec(`UPDATE pending_ops SET state = 'in_flight' WHERE id = ?`, op.ID); err != nil {
			return nil, &models.StorageError{Op: "peek mark", Key: op.ID, Err: err}
		}
		op.State = models.OpStateInFlight
	}

	if err := tx.Commit(); err != nil {
		return nil, &models.StorageError{Op: "peek commit", Err: err}
	}
	return ops, nil
}

// Ack removes an acknowledged operation.
func (q *SQLiteQueue) Ack(opID string) error {
	res, err := q.db.Exec("DELETE FROM pending_ops WHERE id = ?", opID)
	if err != nil {
		return &models.StorageError{Op: "ack", Key: opID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Fail reschedules or dead-letters a failed operation.
func (q *SQLiteQueue) Fail(opID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var retryCount, maxRetries int
	err := q.db.QueryRow(`
        SELECT retry_count, max_retries FROM pending_ops WHERE id = ?
    `, opID).Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return &models.StorageError{Op: "fail lookup", Key: opID, Err: err}
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	retryCount++
	permanent := models.IsPermanent(cause)
	if permanent || retryCount >= maxRetries {
		_, err = q.db.Exec(`
            UPDATE pending_ops
            SET state = 'failed', retry_count = ?, last_error = ?
            WHERE id = ?
        `, retryCount, msg, opID)
		if err != nil {
			return &models.StorageError{Op: "fail dead-letter", Key: opID, Err: err}
		}

		q.logger.WithFields(map[string]interface{}{
			"op_id":     opID,
			"permanent": permanent,
			"retries":   retryCount,
		}).Warn("Operation moved to failed state")
		return nil
	}

	next := time.Now().UTC().Add(q.backoff.Delay(retryCount - 1))
	_, err = q.db.Exec(`
        UPDATE pending_ops
        SET state = 'queued', retry_count = ?, next_attempt = ?, last_error = ?
        WHERE id = ?
    `, retryCount, next, msg, opID)
	if err != nil {
		return &models.StorageError{Op: "fail reschedule", Key: opID, Err: err}
	}

	q.logger.WithFields(map[string]interface{}{
		"op_id":        opID,
		"retry_count":  retryCount,
		"next_attempt": next,
	}).Debug("Operation rescheduled with backoff")
	return nil
}

// Requeue returns a dead-lettered operation to the queue.
func (q *SQLiteQueue) Requeue(opID string) error {
	res, err := q.db.Exec(`
        UPDATE pending_ops
        SET state = 'queued', retry_count = 0, next_attempt = NULL, last_error = NULL
        WHERE id = ? AND state = 'failed'
    `, opID)
	if err != nil {
		return &models.StorageError{Op: "requeue", Key: opID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DiscardEntity drops every queued operation for an entity.
func (q *SQLiteQueue) DiscardEntity(entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.Exec(`
        DELETE FROM pending_ops
        WHERE entity_id = ? AND state IN ('queued', 'in_flight')
    `, entityID)
	if err != nil {
		return 0, &models.StorageError{Op: "discard entity", Key: entityID, Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RemapEntity rewrites entity references after server ID assignment.
func (q *SQLiteQueue) RemapEntity(tempID, serverID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.Begin()
	if err != nil {
		return &models.StorageError{Op: "remap begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE pending_ops SET entity_id = ? WHERE entity_id = ?`, serverID, tempID); err != nil {
		return &models.StorageError{Op: "remap entity_id", Key: tempID, Err: err}
	}
	if _, err := tx.Exec(`UPDATE pending_ops SET parent_id = ? WHERE parent_id = ?`, serverID, tempID); err != nil {
		return &models.StorageError{Op: "remap parent_id", Key: tempID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.StorageError{Op: "remap commit", Err: err}
	}
	return nil
}

// PendingForEntity counts undelivered operations for an entity.
func (q *SQLiteQueue) PendingForEntity(entityID string) (int, error) {
	var n int
	err := q.db.QueryRow(`
        SELECT COUNT(*) FROM pending_ops
        WHERE entity_id = ? AND state IN ('queued', 'in_flight')
    `, entityID).Scan(&n)
	if err != nil {
		return 0, &models.StorageError{Op: "pending count", Key: entityID, Err: err}
	}
	return n, nil
}

// Len counts operations still awaiting delivery.
func (q *SQLiteQueue) Len() (int, error) {
	var n int
	err := q.db.QueryRow(`
        SELECT COUNT(*) FROM pending_ops WHERE state IN ('queued', 'in_flight')
    `).Scan(&n)
	if err != nil {
		return 0, &models.StorageError{Op: "len", Err: err}
	}
	return n, nil
}

// FailedOps lists dead-lettered operations.
func (q *SQLiteQueue) FailedOps() ([]*models.PendingOperation, error) {
	rows, err := q.db.Query(`
        SELECT seq, id, type, entity_type, entity_id, parent_id, entry_index,
               data, timestamp, retry_count, max_retries, next_attempt, state, last_error
        FROM pending_ops WHERE state = 'failed' ORDER BY seq
    `)
	if err != nil {
		return nil, &models.StorageError{Op: "failed ops", Err: err}
	}
	defer rows.Close()

	var ops []*models.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "failed ops scan", Err: err}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ReleaseInFlight returns in-flight operations to queued state.
func (q *SQLiteQueue) ReleaseInFlight() error {
	_, err := q.db.Exec(`UPDATE pending_ops SET state = 'queued' WHERE state = 'in_flight'`)
	if err != nil {
		return &models.StorageError{Op: "release in-flight", Err: err}
	}
	return nil
}

func scanOp(rows *sql.Rows) (*models.PendingOperation, error) {
	var op models.PendingOperation
	var seq int64
	var opType, entityType, state string
	var parentID, lastError sql.NullString
	var entryIndex sql.NullInt64
	var nextAttempt sql.NullTime
	var data []byte

	err := rows.Scan(&seq, &op.ID, &opType, &entityType, &op.EntityID, &parentID, &entryIndex,
		&data, &op.Timestamp, &op.RetryCount, &op.MaxRetries, &nextAttempt, &state, &lastError)
	if err != nil {
		return nil, err
	}

	op.Type = models.OperationType(opType)
	op.EntityType = models.EntityType(entityType)
	op.State = models.OperationState(state)
	if parentID.Valid {
		op.ParentID = parentID.String
	}
	if entryIndex.Valid {
		op.EntryIndex = int(entryIndex.Int64)
	}
	if nextAttempt.Valid {
		op.NextAttempt = nextAttempt.Time
	}
	if lastError.Valid {
		op.LastError = lastError.String
	}
	if len(data) > 0 {
		op.Data = data
	}
	return &op, nil
}
