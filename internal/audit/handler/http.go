// Package handler serves the audit trail over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"saas-auth-core/internal/apperr"
	"saas-auth-core/internal/audit/domain"
	"saas-auth-core/internal/security"
	"saas-auth-core/internal/server/middleware"
	"saas-auth-core/internal/server/respond"
)

// AuditAPI lists audit events subject to the caller's permissions.
type AuditAPI interface {
	ListAuditEvents(ctx context.Context, caller *security.AccessClaims, userID string, limit int) ([]*domain.Event, error)
}

// Handler serves GET /v1/audit/events.
type Handler struct {
	svc AuditAPI
}

// New returns a Handler.
func New(svc AuditAPI) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the audit routes; they require middleware.Auth.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/audit/events", h.List)
}

type eventResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"event_data,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List accepts user_id (default: the caller) and limit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respond.Fail(w, r, apperr.Validation("INVALID_INPUT", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	list, err := h.svc.ListAuditEvents(r.Context(), caller, q.Get("user_id"), limit)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	out := make([]eventResponse, len(list))
	for i, e := range list {
		out[i] = eventResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			Type:      string(e.Type),
			Data:      e.Data,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			TraceID:   e.TraceID,
			CreatedAt: e.CreatedAt,
		}
	}
	respond.JSON(w, http.StatusOK, out)
}
