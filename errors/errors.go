// Package errors provides custom error types for the offline kit
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure       ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure       ErrorCode = "STORAGE_FAILURE"
	ErrCodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeExecutionFailure     ErrorCode = "EXECUTION_FAILURE"
	ErrCodeValidationFailure    ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the kit operation during which an error occurred
type Operation string

const (
	OpEnqueue    Operation = "enqueue"
	OpDrain      Operation = "drain"
	OpExecute    Operation = "execute"
	OpStore      Operation = "store"
	OpLoad       Operation = "load"
	OpCache      Operation = "cache"
	OpRetrieve   Operation = "retrieve"
	OpInvalidate Operation = "invalidate"
	OpTransport  Operation = "transport"
	OpMonitor    Operation = "monitor"
	OpConfig     Operation = "config"
	OpClose      Operation = "close"
)

// SyncError represents an error that occurred inside the offline kit
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "queue", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
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

// NewSerializationError creates a new serialization-related SyncError.
// Serialization failures indicate a programming error in the payload type
// and are never retryable.
func NewSerializationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeSerializationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewExecutionError creates a new SyncError for a failed remote execution.
func NewExecutionError(op Operation, retryable bool, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeExecutionFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: retryable,
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
		Component: "transport",
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

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
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

// CodeOf returns the ErrorCode carried by err, or the empty code when err
// is not a SyncError.
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}
