package handler

// RESPONSE HELPERS:
// Every JSON endpoint answers through writeJSON and writeError, so the
// browser always gets the same error shape:
//
//	{"error": "validation_error", "message": "bio must be at least 20 characters", "field": "bio"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/starhunters/internal/apperror"
)

// ErrorResponse is the error body of every API endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable type, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // form field at fault, for validation errors
}

// writeJSON sends data with the given status. Headers must be set before
// the status, and the status before the body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error onto an HTTP status.
//
// errors.Is walks the whole chain, so a wrapped error such as
// fmt.Errorf("adding star: %w", apperror.NotFound(...)) still maps to 404.
// Errors without an AppError in the chain become a generic 500 so no
// backend detail leaks to the browser.
func writeError(w http.ResponseWriter, err error) {
	code, status, ok := apperror.Classify(err)
	if !ok {
		writeJSON(w, status, ErrorResponse{
			Error:   code,
			Message: "An internal error occurred",
		})
		return
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a JSON request body into v. A malformed body is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON request body")
	}
	return nil
}
