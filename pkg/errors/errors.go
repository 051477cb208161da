// Package errors defines the failure taxonomy shared by the form service,
// provider chain, context store and validation engine.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeConfiguration    = "CONFIGURATION"
	CodeTransientLookup  = "TRANSIENT_LOOKUP"
	CodeNotFound         = "NOT_FOUND"
)

var (
	// ErrPermissionDenied indicates the process engine rejected the caller (401/403).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConfiguration indicates a malformed form definition or field mapping.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientLookup indicates a scripting bridge or remote check failure.
	ErrTransientLookup = errors.New("transient lookup failure")

	// ErrNotFound indicates an unknown context token, task or process.
	ErrNotFound = errors.New("not found")
)

var codeSentinels = map[string]error{
	CodePermissionDenied: ErrPermissionDenied,
	CodeConfiguration:    ErrConfiguration,
	CodeTransientLookup:  ErrTransientLookup,
	CodeNotFound:         ErrNotFound,
}

// Error is a structured failure carrying a machine-readable code.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel associated with the error code, so
// errors.Is(err, ErrNotFound) holds for any NOT_FOUND Error.
func (e *Error) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// NewError creates a structured error.
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// PermissionDenied builds a PERMISSION_DENIED error.
func PermissionDenied(message string, err error) *Error {
	return NewError(CodePermissionDenied, message, err)
}

// Configuration builds a CONFIGURATION error.
func Configuration(message string, err error) *Error {
	return NewError(CodeConfiguration, message, err)
}

// TransientLookup builds a TRANSIENT_LOOKUP error.
func TransientLookup(message string, err error) *Error {
	return NewError(CodeTransientLookup, message, err)
}

// NotFound builds a NOT_FOUND error.
func NotFound(message string, err error) *Error {
	return NewError(CodeNotFound, message, err)
}

// IsPermissionDenied checks for a permission failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsConfiguration checks for a configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTransientLookup checks for a transient lookup failure.
func IsTransientLookup(err error) bool {
	return errors.Is(err, ErrTransientLookup)
}

// IsNotFound checks for a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// HTTPError is implemented by transport errors that carry a status code.
type HTTPError interface {
	error
	StatusCode() int
}

// StatusError is a minimal HTTPError.
type StatusError struct {
	Code int
	Err  error
}

func (e StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("http %d", e.Code)
}

func (e StatusError) Unwrap() error { return e.Err }

func (e StatusError) StatusCode() int { return e.Code }

// IsAuthFailure reports whether err carries a 401 or 403 status.
func IsAuthFailure(err error) bool {
	var httpErr HTTPError
	if !errors.As(err, &httpErr) || httpErr == nil {
		return false
	}
	code := httpErr.StatusCode()
	return code == 401 || code == 403
}
