// Package errors defines the error kinds shared by the sync pipeline so callers
// can tell retryable conditions from terminal ones without reading messages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	// Transport
	ErrNetwork      ErrorCode = "NETWORK"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
	ErrNonRetryable ErrorCode = "NON_RETRYABLE"

	// Authorization
	ErrAuthExpired             ErrorCode = "AUTH_EXPIRED"
	ErrReauthorizationRequired ErrorCode = "REAUTHORIZATION_REQUIRED"

	// Data and storage
	ErrDataShape   ErrorCode = "DATA_SHAPE"
	ErrStorage     ErrorCode = "STORAGE"
	ErrPersistence ErrorCode = "PERSISTENCE"
	ErrNotFound    ErrorCode = "NOT_FOUND"

	// Setup
	ErrConfig ErrorCode = "CONFIG"
)

// AppError represents an error with a code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// CodeOrDefault returns err's code, or def when err carries none.
func CodeOrDefault(err error, def ErrorCode) ErrorCode {
	if code := CodeOf(err); code != "" {
		return code
	}
	return def
}

// Retryable reports whether the condition may clear up on its own.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrRateLimited:
		return true
	}
	return false
}

// Fatal reports whether err should abort the whole job rather than a single
// page, record or batch.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case ErrReauthorizationRequired, ErrAuthExpired, ErrPersistence, ErrConfig:
		return true
	}
	return false
}
