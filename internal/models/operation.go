package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType is the kind of mutation a pending operation carries.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// OperationState tracks a queued operation's delivery status.
type OperationState string

const (
	OpStateQueued   OperationState = "queued"
	OpStateInFlight OperationState = "in_flight"
	OpStateFailed   OperationState = "failed" // dead-letter, surfaced to the user
)

// PendingOperation is a queued mutation intent, independent of the current
// record state. Operations for one entity apply strictly in enqueue order.
type PendingOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`

	// ParentID and EntryIndex address entities embedded in a parent record,
	// e.g. a fermentation entry inside a brew session.
	ParentID   string `json:"parent_id,omitempty"`
	EntryIndex int    `json:"entry_index,omitempty"`

	// Data carries the payload for create/update; absent for delete.
	Data json.RawMessage `json:"data,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`

	// NextAttempt gates backoff scheduling; zero means ready now.
	NextAttempt time.Time      `json:"next_attempt,omitempty"`
	State       OperationState `json:"state"`
	LastError   string         `json:"last_error,omitempty"`
}

// Validate checks structural invariants of the operation.
func (op *PendingOperation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation missing id")
	}
	if !op.Type.Valid() {
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	if !op.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
	if op.EntityID == "" {
		return fmt.Errorf("operation missing entity_id")
	}
	if op.Type != OpDelete && len(op.Data) == 0 {
		return fmt.Errorf("%s operation missing payload", op.Type)
	}
	if op.Type == OpDelete && len(op.Data) != 0 {
		return fmt.Errorf("delete operation must not carry a payload")
	}
	return nil
}

// Exhausted reports whether the operation has used up its retry budget.
func (op *PendingOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}

// SyncResult reports the outcome of one sync cycle. It is a pure report;
// nothing in it is retained across cycles except the last-sync timestamp the
// orchestrator keeps.
type SyncResult struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// AddError records a per-operation error without failing the whole cycle.
func (r *SyncResult) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// ResolutionStrategy selects how a conflict is adjudicated.
type ResolutionStrategy string

const (
	ResolveLocalWins  ResolutionStrategy = "local_wins"
	ResolveRemoteWins ResolutionStrategy = "remote_wins"
	ResolveManual     ResolutionStrategy = "manual"
)

// ConflictResolution is the policy handed to the resolver. ResolvedData is
// required when the strategy is manual and the user has made a choice.
type ConflictResolution struct {
	Strategy     ResolutionStrategy `json:"strategy"`
	ResolvedData json.RawMessage    `json:"resolved_data,omitempty"`
}

// Validate checks the resolution policy.
func (c *ConflictResolution) Validate() error {
	switch c.Strategy {
	case ResolveLocalWins, ResolveRemoteWins:
		return nil
	case ResolveManual:
		return nil
	case "":
		return fmt.Errorf("resolution strategy is required")
	default:
		return fmt.Errorf("unknown resolution strategy %q", c.Strategy)
	}
}
