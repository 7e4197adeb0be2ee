package supabase

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/sakif/starhunters/internal/apperror"
)

// Error is a failed Supabase response. PostgREST and GoTrue use different
// error bodies; parseError reads both.
type Error struct {
	Code       string
	Message    string
	Details    string
	Hint       string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the response onto the apperror kinds so callers can use
// errors.Is(err, apperror.ErrConflict) and friends without knowing the backend.
func (e *Error) Unwrap() error {
	switch e.Code {
	case "23505": // unique_violation
		return apperror.ErrConflict
	case "23503", "23514", "22P02": // foreign key, check, invalid text representation
		return apperror.ErrValidation
	case "PGRST116": // singular response with zero rows
		return apperror.ErrNotFound
	case "invalid_credentials", "invalid_grant":
		return apperror.ErrUnauthorized
	case "user_already_exists", "email_exists":
		return apperror.ErrConflict
	}

	switch e.StatusCode {
	case http.StatusNotFound:
		return apperror.ErrNotFound
	case http.StatusConflict:
		return apperror.ErrConflict
	case http.StatusUnauthorized:
		return apperror.ErrUnauthorized
	case http.StatusForbidden:
		return apperror.ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperror.ErrValidation
	}
	return nil
}

// parseError reads:
//
//	PostgREST: {"code":"23505","message":"...","details":"...","hint":"..."}
//	GoTrue:    {"code":400,"error_code":"invalid_credentials","msg":"..."}
//	OAuth:     {"error":"invalid_grant","error_description":"..."}
func parseError(body []byte, statusCode int) error {
	if !gjson.ValidBytes(body) {
		return &Error{Code: "unknown", Message: string(body), StatusCode: statusCode}
	}

	r := gjson.ParseBytes(body)

	code := r.Get("error_code").String()
	if code == "" && r.Get("code").Type == gjson.String {
		code = r.Get("code").String()
	}
	if code == "" {
		code = r.Get("error").String()
	}

	msg := firstNonEmpty(
		r.Get("message").String(),
		r.Get("msg").String(),
		r.Get("error_description").String(),
		r.Get("error").String(),
	)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	return &Error{
		Code:       code,
		Message:    msg,
		Details:    r.Get("details").String(),
		Hint:       r.Get("hint").String(),
		StatusCode: statusCode,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
