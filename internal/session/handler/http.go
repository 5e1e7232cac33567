// Package handler serves session listing and revocation over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saas-auth-core/internal/security"
	"saas-auth-core/internal/server/middleware"
	"saas-auth-core/internal/server/respond"
	"saas-auth-core/internal/session/domain"
)

// SessionAPI is the slice of *service.AuthService these handlers call.
type SessionAPI interface {
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	RevokeSession(ctx context.Context, caller *security.AccessClaims, sessionID string) error
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
}

// Handler serves /v1/sessions. Every route requires middleware.Auth.
type Handler struct {
	svc SessionAPI
}

// New returns a Handler.
func New(svc SessionAPI) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the session routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/sessions", h.List)
	r.Delete("/v1/sessions", h.RevokeAll)
	r.Delete("/v1/sessions/{id}", h.Revoke)
}

// sessionResponse omits the refresh token hash.
type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	list, err := h.svc.ListSessions(r.Context(), caller.UserID)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	out := make([]sessionResponse, len(list))
	for i, s := range list {
		out[i] = sessionResponse{
			ID:         s.ID,
			DeviceID:   s.DeviceID,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.ID == caller.SessionID,
		}
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	if err := h.svc.RevokeSession(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	n, err := h.svc.RevokeAllSessions(r.Context(), caller.UserID)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int64{"revoked": n})
}
