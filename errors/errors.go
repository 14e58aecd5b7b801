// Package errors provides the structured error type shared by the ledger,
// the reconciler and the sync queue.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeNoStrategy         ErrorCode = "NO_STRATEGY"
	ErrCodeDetectionFailure   ErrorCode = "DETECTION_FAILURE"
	ErrCodeResolutionFailure  ErrorCode = "RESOLUTION_FAILURE"
	ErrCodeReplicationFailure ErrorCode = "REPLICATION_FAILURE"
	ErrCodeStorageFailure     ErrorCode = "STORAGE_FAILURE"
	ErrCodeNetworkFailure     ErrorCode = "NETWORK_FAILURE"
	ErrCodeConflictFailure    ErrorCode = "CONFLICT_FAILURE"
	ErrCodeValidationFailure  ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the ledger operation during which an error occurred
type Operation string

const (
	OpDetect         Operation = "detect"
	OpRecordConflict Operation = "record_conflict"
	OpResolve        Operation = "resolve"
	OpReplicate      Operation = "replicate"
	OpSetStrategy    Operation = "set_strategy"
	OpEnqueue        Operation = "enqueue"
	OpReplay         Operation = "replay"
	OpStore          Operation = "store"
	OpLoad           Operation = "load"
	OpLoadConfig     Operation = "load_config"
	OpClose          Operation = "close"
)

// SyncError represents an error raised by the conflict ledger or sync queue
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "ledger", "remote")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context (conflict id, record type, ...)
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a metadata key to the error and returns it.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewNotFoundError reports a missing conflict, strategy or sync entry.
// Not-found errors are surfaced immediately and never retried.
func NewNotFoundError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNotFound,
		Op:        op,
		Component: "ledger",
		Err:       cause,
		Retryable: false,
	}
}

// NewNoStrategyError reports a record type without a merge strategy binding.
func NewNoStrategyError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNoStrategy,
		Op:        op,
		Component: "strategy",
		Err:       cause,
		Retryable: false,
	}
}

// NewDetectionError reports an internal failure while comparing two versions.
func NewDetectionError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeDetectionFailure,
		Op:        OpDetect,
		Component: "detect",
		Err:       cause,
		Retryable: false,
	}
}

// NewResolutionError reports a failure inside a resolver or while persisting
// a resolution. The conflict stays pending, so the caller may retry.
func NewResolutionError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeResolutionFailure,
		Op:        op,
		Component: "reconcile",
		Err:       cause,
		Retryable: true,
	}
}

// NewReplicationError reports a failed push of a locally resolved record.
func NewReplicationError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeReplicationFailure,
		Op:        OpReplicate,
		Component: "remote",
		Err:       cause,
		Retryable: true,
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Op:        op,
		Component: "ledger",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "remote",
		Err:       cause,
		Retryable: true,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// HasCode reports whether any SyncError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost SyncError in err's chain.
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}
