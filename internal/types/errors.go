package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for planner errors.
type ErrorCode string

// Planning error codes
const (
	INVALID_GOAL       ErrorCode = "INVALID_GOAL"
	PLAN_EXHAUSTED     ErrorCode = "PLAN_EXHAUSTED"
	PRECONDITION_STALE ErrorCode = "PRECONDITION_STALE"
)

// Learning error codes
const (
	AGENT_QUARANTINED ErrorCode = "AGENT_QUARANTINED"
	PATTERN_NOT_FOUND ErrorCode = "PATTERN_NOT_FOUND"
	PLAN_NOT_FOUND    ErrorCode = "PLAN_NOT_FOUND"
)

// Storage error codes
const (
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
	STORAGE_UNAVAILABLE ErrorCode = "STORAGE_UNAVAILABLE"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// GoapError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type GoapError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *GoapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *GoapError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a GoapError with the same Code.
func (e *GoapError) Is(target error) bool {
	var goapErr *GoapError
	if errors.As(target, &goapErr) {
		return e.Code == goapErr.Code
	}
	return false
}

// NewError creates a new non-retryable GoapError with the given code and message.
func NewError(code ErrorCode, message string) *GoapError {
	return &GoapError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable GoapError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., a busy database).
func NewRetryableError(code ErrorCode, message string) *GoapError {
	return &GoapError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable GoapError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *GoapError {
	return &GoapError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// WrapRetryableError creates a retryable GoapError that wraps an existing error.
// Storage commit failures are wrapped this way so callers can retry with backoff.
func WrapRetryableError(code ErrorCode, message string, cause error) *GoapError {
	return &GoapError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable reports whether err is a GoapError flagged as retryable.
func IsRetryable(err error) bool {
	var goapErr *GoapError
	if errors.As(err, &goapErr) {
		return goapErr.Retryable
	}
	return false
}
