package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	ErrConfiguration       ErrorCode = "CONFIGURATION_ERROR"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrDimensionMismatch   ErrorCode = "DIMENSION_MISMATCH"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Orchestrator error codes
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// NewConfigurationError reports an invalid option. Never retryable.
func NewConfigurationError(format string, args ...any) *Error {
	return NewError(ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewProviderUnavailableError reports a backend that is down or timed out.
func NewProviderUnavailableError(provider string, cause error) *Error {
	return NewError(ErrProviderUnavailable, "provider unavailable").
		WithProvider(provider).
		WithRetryable(true).
		WithCause(cause)
}

// NewDimensionMismatchError reports a vector whose length does not match the store.
func NewDimensionMismatchError(id string, want, got int) *Error {
	return NewError(ErrDimensionMismatch,
		fmt.Sprintf("chunk %q: expected dimension %d, got %d", id, want, got))
}

// NewNotFoundError reports an unknown id.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsConfigurationError reports whether err carries ErrConfiguration.
func IsConfigurationError(err error) bool { return hasCode(err, ErrConfiguration) }

// IsProviderUnavailable reports whether err carries ErrProviderUnavailable.
func IsProviderUnavailable(err error) bool { return hasCode(err, ErrProviderUnavailable) }

// IsDimensionMismatch reports whether err carries ErrDimensionMismatch.
func IsDimensionMismatch(err error) bool { return hasCode(err, ErrDimensionMismatch) }

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }
