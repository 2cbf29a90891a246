package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeVersion    = "VERSION_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeServer     = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrOffline          = errors.New("remote unreachable")
	ErrOperationExpired = errors.New("operation retries exhausted")
)

// NetworkError is a transient failure. Operations that hit one are retried
// with backoff and never surfaced to the caller unless retries run out.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a permanent rejection. The offending operation moves to
// the failed state instead of being retried.
type ValidationError struct {
	EntityType EntityType
	EntityID   string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validate %s %s: field %s: %s", e.EntityType, e.EntityID, e.Field, e.Reason)
	}
	return fmt.Sprintf("validate %s %s: %s", e.EntityType, e.EntityID, e.Reason)
}

// ConflictError marks divergence between local and remote state. It is an
// outcome, not a failure: the item is held in conflict status until resolved.
type ConflictError struct {
	EntityType EntityType
	EntityID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: local and remote diverged", e.EntityType, e.EntityID)
}

// VersionError reports a static-data version check that could not complete.
// The stale cache keeps serving reads.
type VersionError struct {
	DataType StaticDataType
	Err      error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version check %s: %v", e.DataType, e.Err)
}

func (e *VersionError) Unwrap() error { return e.Err }

// StorageError is a local persistence failure. It is never swallowed; user
// data must not be dropped silently.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// APIError represents a structured error from the remote API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return errors.Is(err, ErrOffline)
}

// IsConflict reports whether err marks local/remote divergence rather than
// a delivery failure. Conflicts are outcomes: the record is parked for
// resolution instead of being retried or dead-lettered.
func IsConflict(err error) bool {
	var confErr *ConflictError
	if errors.As(err, &confErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 409 || apiErr.Code == ErrCodeConflict
	}
	return false
}

// IsPermanent reports whether err should dead-letter the operation
// immediately instead of burning retries.
func IsPermanent(err error) bool {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 400 || apiErr.StatusCode == 422
	}
	return false
}
