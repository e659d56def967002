// Package errors defines the error taxonomy shared by the cache, recommendation
// and task layers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type.
type ErrorCode string

const (
	// ErrCodeUnauthenticated indicates the session is no longer authenticated.
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRemoteUnavailable indicates the remote recommender failed.
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInvariantViolation indicates an upstream contract breach.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Sentinels usable with errors.Is. AppError values match the sentinel of their code.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotFound           = errors.New("not found")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrRemoteUnavailable  = errors.New("remote unavailable")
)

// AppError represents a structured error.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *AppError) Is(target error) bool {
	switch e.Code {
	case ErrCodeUnauthenticated:
		return target == ErrUnauthenticated
	case ErrCodeNotFound:
		return target == ErrNotFound
	case ErrCodeInvariantViolation:
		return target == ErrInvariantViolation
	case ErrCodeRemoteUnavailable, ErrCodeTimeout:
		return target == ErrRemoteUnavailable
	}
	return false
}

// WithContext adds context to the error.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(msg string) *AppError {
	return &AppError{Code: ErrCodeUnauthenticated, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AppError {
	return &AppError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: msg}
}

// RemoteUnavailable creates a remote unavailable error.
func RemoteUnavailable(msg string, cause error) *AppError {
	return &AppError{Code: ErrCodeRemoteUnavailable, Message: msg, Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: msg}
}

// InvariantViolation creates an invariant violation error.
func InvariantViolation(msg string) *AppError {
	return &AppError{Code: ErrCodeInvariantViolation, Message: msg}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error (or anything it wraps) carries a specific code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AppError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return defaultCode
}
