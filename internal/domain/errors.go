package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrEmptyInput indicates a null, empty, or whitespace-only identifier input.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidFormat indicates input that does not satisfy a kind's
	// structural or checksum rule after normalization attempts.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrUnresolvedKind indicates a label that maps to no known identifier kind.
	ErrUnresolvedKind = errors.New("unresolved identifier kind")

	// ErrTransient indicates a retryable fetch failure (HTTP 5xx, 429, or
	// a network-level error).
	ErrTransient = errors.New("transient fetch error")

	// ErrSchema indicates a fetched payload that does not match the expected
	// response shape. Never retried.
	ErrSchema = errors.New("schema validation error")

	// ErrNotFound indicates that a requested entity was not found at a source.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports why an identifier input was rejected.
// Every rejection carries a human-readable reason naming the violated rule.
type ValidationError struct {
	Kind   Kind
	Input  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Input, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidFormat
}

// NewValidationError creates a new ValidationError.
func NewValidationError(kind Kind, input, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Input: input, Reason: reason}
}

// TransientError wraps a retryable fetch failure with its source context.
type TransientError struct {
	Source string
	Cause  error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error from %s: %v", e.Source, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TransientError) Unwrap() error {
	return ErrTransient
}

// SchemaError reports a payload that failed response-schema validation.
// It is distinguishable from network failures so that callers can abort
// instead of retrying.
type SchemaError struct {
	Source   string
	Endpoint string
	Cause    error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s %s: payload does not match expected schema: %v", e.Source, e.Endpoint, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// ExternalAPIError provides details about a non-success response from an
// external source API.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// IsTransientStatus reports whether an HTTP status code is worth retrying.
func IsTransientStatus(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}
