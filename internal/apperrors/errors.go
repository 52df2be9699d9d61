// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient error")  // retryable: 429, 5xx, connection failures
	ErrPermanent  = errors.New("permanent error")  // not retried: 4xx other than 429
	ErrRemote     = errors.New("remote API error") // non-success response with no clearer class
	ErrInternal   = errors.New("internal error")   // I/O, serialization, path safety, catch-all
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // For validation errors (e.g., "name", "smiles")
	Resource   string // For not found (e.g., "campaign", "compound")
	Op         string // Operation that failed (e.g., "boltz.submit")
	StatusCode int    // HTTP status from the remote service, if any
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Transient creates a retryable error for a failed remote call.
func Transient(op string, statusCode int, cause error) error {
	return &Error{
		Sentinel:   ErrTransient,
		Message:    fmt.Sprintf("%s: %v", op, cause),
		Op:         op,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Permanent creates a non-retryable error for a rejected remote call.
func Permanent(op string, statusCode int, message string) error {
	return &Error{
		Sentinel:   ErrPermanent,
		Message:    fmt.Sprintf("%s failed (%d): %s", op, statusCode, message),
		Op:         op,
		StatusCode: statusCode,
	}
}

// Remote creates an error for an unclassified non-success remote response.
func Remote(op, message string) error {
	return &Error{
		Sentinel: ErrRemote,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
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

// IsRetryable reports whether an error should be retried by the network
// retry policy. Only transient errors are retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
