// Package apperror provides structured, typed errors for the engine.
// Callers decide retry-vs-abort by inspecting the error code, never by
// string matching.
package apperror

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// CodeStorage indicates a backend I/O failure (KV store, database).
	CodeStorage Code = "STORAGE_ERROR"

	// CodeAPI indicates an external market-data fetch failure.
	CodeAPI Code = "API_ERROR"

	// CodeValidation indicates malformed configuration or input.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeNotFound indicates a missing key or record.
	CodeNotFound Code = "NOT_FOUND"

	// CodeSerialization indicates a payload could not be encoded or decoded.
	CodeSerialization Code = "SERIALIZATION_ERROR"
)

// Error is the application error type. It carries a code, a human-readable
// message, an optional exchange name (for API errors) and the wrapped cause.
type Error struct {
	Code     Code
	Message  string
	Exchange string
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Exchange != "" {
		return fmt.Sprintf("%s: %s (exchange: %s)", e.Code, e.Message, e.Exchange)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so callers can use errors.Is with a bare
// code-only sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Storage creates a storage error wrapping cause.
func Storage(msg string, cause error) *Error {
	return &Error{Code: CodeStorage, Message: msg, cause: cause}
}

// API creates an external-API error naming the exchange that failed.
func API(exchange, msg string, cause error) *Error {
	return &Error{Code: CodeAPI, Message: msg, Exchange: exchange, cause: cause}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// NotFound creates a not-found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// Serialization creates a serialization error wrapping cause.
func Serialization(msg string, cause error) *Error {
	return &Error{Code: CodeSerialization, Message: msg, cause: cause}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
