// Package respond writes the JSON envelopes shared by every HTTP handler.
package respond

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"saas-auth-core/internal/apperr"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Envelope is the outer shape of every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is the client-visible part of a failure. Internal causes are never rendered.
type Error struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	RemainingMinutes  *int   `json:"remaining_minutes,omitempty"`
}

// JSON writes data with status inside a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// NoContent writes 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Fail writes err as an error envelope. Unclassified errors become 500 and are logged.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		write(w, http.StatusInternalServerError, Envelope{Error: &Error{Code: "INTERNAL_ERROR", Message: "unexpected server error"}})
		return
	}
	status := Status(ae.Kind)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", ae.Code, "error", err)
	}
	write(w, status, Envelope{Error: &Error{
		Code:              ae.Code,
		Message:           ae.Message,
		RemainingAttempts: ae.RemainingAttempts,
		RemainingMinutes:  ae.RemainingMinutes,
	}})
}

// Status maps an error kind to its HTTP status.
func Status(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into dst. Unknown fields and trailing data are rejected.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("INVALID_INPUT", "request body is required")
		}
		return apperr.Validation("INVALID_INPUT", "malformed request body")
	}
	if dec.More() {
		return apperr.Validation("INVALID_INPUT", "malformed request body")
	}
	return nil
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
