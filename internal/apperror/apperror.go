// Package apperror defines the error kinds shared across layers.
//
// Lookups that find nothing return an error satisfying
// errors.Is(err, ErrNotFound). Callers treat that as a normal outcome and
// branch on it; every other error is a failure of the backend or transport.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// kinds maps each sentinel to its API error code and HTTP status, in the
// order Classify tries them.
var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrConflict, "conflict", http.StatusConflict},
}

// AppError is a domain error with a message safe to show the user.
type AppError struct {
	Err     error  // one of the sentinels above
	Message string // shown to the user as is
	Field   string // form field at fault, if any
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing record, e.g. NotFound("user", id).
func NotFound(resource, key string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, key),
	}
}

// ValidationFailed rejects user input before any request is made.
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that a record with the same unique key already exists.
func Conflict(resource, key string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s already exists: %s", resource, key),
	}
}

// Forbidden means the action is not available in the current state, such
// as onboarding a profile that is already complete.
func Forbidden(message string) *AppError {
	return &AppError{Err: ErrForbidden, Message: message}
}

// Unauthorized means there is no usable session: missing credentials,
// wrong password, or an expired token.
func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Message: message}
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Classify returns the API error code and HTTP status for err. Errors
// with no AppError in their chain are internal: their text may carry
// backend detail, so ok is false and callers must not show it.
func Classify(err error) (code string, status int, ok bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "internal_error", http.StatusInternalServerError, false
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code, k.status, true
		}
	}
	return "internal_error", http.StatusInternalServerError, true
}
