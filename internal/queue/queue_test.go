package queue_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/queue"
	"github.com/brewvault/brewsync/internal/store"
)

func newQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()

	db, err := store.OpenUserDB(filepath.Join(t.TempDir(), "userdata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := queue.NewSQLiteQueue(db, queue.BackoffConfig{
		Base: 100 * time.Millisecond,
		Max:  5 * time.Second,
	}, events.NewNopLogger())
	require.NoError(t, err)
	return q
}

func op(id string, opType models.OperationType, entityID string) *models.PendingOperation {
	p := &models.PendingOperation{
		ID:         id,
		Type:       opType,
		EntityType: models.EntityRecipe,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
		MaxRetries: 3,
	}
	if opType != models.OpDelete {
		p.Data = json.RawMessage(`{"name":"Test Brew","batch_size_l":20}`)
	}
	return p
}

func TestFIFOPerEntity(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-a")))
	require.NoError(t, q.Enqueue(op("op-2", models.OpUpdate, "tmp-a")))
	require.NoError(t, q.Enqueue(op("op-3", models.OpCreate, "tmp-b")))

	batch, err := q.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2, "one op per entity")

	assert.Equal(t, "op-1", batch[0].ID)
	assert.Equal(t, "op-3", batch[1].ID)

	// Second op for tmp-a stays blocked until the first resolves.
	blocked, err := q.PeekBatch(10)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	require.NoError(t, q.Ack("op-1"))

	next, err := q.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "op-2", next[0].ID)
}

func TestDeleteCollapsesQueuedOps(t *testing.T) {
	q := newQueue(t)

	// Entity known to the server: update+update+delete collapses to one delete.
	require.NoError(t, q.Enqueue(op("op-1", models.OpUpdate, "r-1")))
	require.NoError(t, q.Enqueue(op("op-2", models.OpUpdate, "r-1")))
	require.NoError(t, q.Enqueue(op("op-3", models.OpDelete, "r-1")))

	batch, err := q.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OpDelete, batch[0].Type)
	assert.Equal(t, "op-3", batch[0].ID)
}

func TestNeverSyncedCreateDeleteCancels(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-1")))
	require.NoError(t, q.Enqueue(op("op-2", models.OpUpdate, "tmp-1")))
	require.NoError(t, q.Enqueue(op("op-3", models.OpDelete, "tmp-1")))

	// The server never saw tmp-1; nothing may reach the wire.
	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	batch, err := q.PeekBatch(10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestFailReschedulesWithBackoff(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-1")))

	batch, err := q.PeekBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, q.Fail("op-1", &models.NetworkError{Op: "POST", Err: errors.New("timeout")}))

	// Backoff gate: not ready again immediately.
	batch, err = q.PeekBatch(1)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Still counted as pending, not dead-lettered.
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err := q.FailedOps()
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-1")))
	_, err := q.PeekBatch(1)
	require.NoError(t, err)

	cause := &models.ValidationError{EntityType: models.EntityRecipe, EntityID: "tmp-1", Reason: "rejected"}
	require.NoError(t, q.Fail("op-1", cause))

	failed, err := q.FailedOps()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.OpStateFailed, failed[0].State)
	assert.Contains(t, failed[0].LastError, "rejected")

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "dead-lettered ops leave the pending count")
}

func TestRetriesExhaustedDeadLetters(t *testing.T) {
	q := newQueue(t)

	o := op("op-1", models.OpCreate, "tmp-1")
	o.MaxRetries = 2
	require.NoError(t, q.Enqueue(o))

	netErr := &models.NetworkError{Op: "POST", Err: errors.New("unreachable")}
	require.NoError(t, q.Fail("op-1", netErr))
	require.NoError(t, q.Fail("op-1", netErr))

	failed, err := q.FailedOps()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
}

func TestRequeueRestoresFailedOp(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-1")))
	require.NoError(t, q.Fail("op-1", &models.ValidationError{Reason: "bad", EntityType: models.EntityRecipe}))

	require.NoError(t, q.Requeue("op-1"))

	batch, err := q.PeekBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Zero(t, batch[0].RetryCount)

	assert.ErrorIs(t, q.Requeue("op-missing"), models.ErrNotFound)
}

func TestDiscardEntity(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpUpdate, "r-1")))
	require.NoError(t, q.Enqueue(op("op-2", models.OpUpdate, "r-1")))
	require.NoError(t, q.Enqueue(op("op-3", models.OpUpdate, "r-1")))
	require.NoError(t, q.Enqueue(op("op-4", models.OpUpdate, "r-2")))

	n, err := q.DiscardEntity("r-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestRemapEntity(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpUpdate, "tmp-1")))

	child := op("op-2", models.OpUpdate, "fe-1")
	child.EntityType = models.EntityFermentationEntry
	child.ParentID = "tmp-1"
	require.NoError(t, q.Enqueue(child))

	require.NoError(t, q.RemapEntity("tmp-1", "r-42"))

	batch, err := q.PeekBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "r-42", batch[0].EntityID)
	assert.Equal(t, "r-42", batch[1].ParentID)
}

func TestReleaseInFlight(t *testing.T) {
	q := newQueue(t)

	require.NoError(t, q.Enqueue(op("op-1", models.OpCreate, "tmp-1")))

	batch, err := q.PeekBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Simulates a cycle torn down mid-batch: unacked ops go back to queued.
	require.NoError(t, q.ReleaseInFlight())

	batch, err = q.PeekBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "op-1", batch[0].ID)
}

func TestBackoffDelayCaps(t *testing.T) {
	b := queue.BackoffConfig{Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 10*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(20))
}
