package queue

import (
	"time"

	"github.com/brewvault/brewsync/internal/models"
)

// Queue is the pending-operation queue: an ordered, durable log of mutation
// intents awaiting server acknowledgment. Ordering is strict FIFO per entity;
// operations for different entities may be drained in parallel.
type Queue interface {
	// Enqueue appends an operation, applying the collapsing rule: a delete
	// swallows all queued operations for its entity, and cancels outright
	// when the entity was created offline and never synced.
	Enqueue(op *models.PendingOperation) error

	// PeekBatch returns up to n ready operations, at most one per entity
	// (the head of each entity's FIFO), marking them in flight.
	PeekBatch(n int) ([]*models.PendingOperation, error)

	// Ack removes an acknowledged operation.
	Ack(opID string) error

	// Fail reschedules a failed operation with exponential backoff, or moves
	// it to the dead-letter state when permanent or out of retries.
	Fail(opID string, cause error) error

	// Requeue returns a dead-lettered operation to the queue with a fresh
	// retry budget. Driven by explicit user action.
	Requeue(opID string) error

	// DiscardEntity drops every queued operation for an entity. Used when a
	// conflict resolves remote-wins.
	DiscardEntity(entityID string) (int, error)

	// RemapEntity rewrites entity references after the server assigns an ID
	// to an offline-created record.
	RemapEntity(tempID, serverID string) error

	// PendingForEntity counts undelivered operations for an entity.
	PendingForEntity(entityID string) (int, error)

	// Len counts operations still awaiting delivery.
	Len() (int, error)

	// FailedOps lists dead-lettered operations for the UI.
	FailedOps() ([]*models.PendingOperation, error)

	// ReleaseInFlight returns in-flight operations to queued state. Called
	// when a sync cycle stops before finishing its batch.
	ReleaseInFlight() error
}

// BackoffConfig shapes the retry schedule.
type BackoffConfig struct {
	Base time.Duration // first retry delay
	Max  time.Duration // cap
}

// Delay returns the backoff delay for a given retry count.
func (b BackoffConfig) Delay(retryCount int) time.Duration {
	delay := b.Base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}
