// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrUnknownWorker     = errors.New("unknown worker")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInternal          = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For configuration errors (e.g., "batchSize")
	WorkerID string // For unknown-worker and transition errors
	Op       string // Operation that failed (e.g., "storage.listInputs")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Configuration creates a fatal pre-flight configuration error.
func Configuration(field, message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  message,
		Field:    field,
	}
}

// UnknownWorker creates an error for a worker identifier that was never
// registered. The request is rejected with no state change.
func UnknownWorker(workerID string) error {
	return &Error{
		Sentinel: ErrUnknownWorker,
		Message:  fmt.Sprintf("worker %s is not registered", workerID),
		WorkerID: workerID,
	}
}

// InvalidTransition creates an error for a stale or duplicate report. The
// authoritative registry state wins; the caller's report is discarded.
func InvalidTransition(workerID, reason string) error {
	return &Error{
		Sentinel: ErrInvalidTransition,
		Message:  reason,
		WorkerID: workerID,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
