// Package handler exposes the identity service over HTTP: the auth endpoints,
// account lifecycle, signing-key administration, JWKS and the webhook intake.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saas-auth-core/internal/apperr"
	"saas-auth-core/internal/identity/service"
	"saas-auth-core/internal/keys"
	"saas-auth-core/internal/security"
	"saas-auth-core/internal/server/middleware"
	"saas-auth-core/internal/server/respond"
	sessiondomain "saas-auth-core/internal/session/domain"
	userdomain "saas-auth-core/internal/user/domain"
)

// AuthAPI is the slice of *service.AuthService these handlers call.
type AuthAPI interface {
	Register(ctx context.Context, in service.RegisterInput) (*userdomain.User, error)
	Login(ctx context.Context, email, password string, meta sessiondomain.Meta) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta sessiondomain.Meta) (*service.TokenPair, error)
	Logout(ctx context.Context, refreshToken string, caller *security.AccessClaims) error
	VerifyAccess(ctx context.Context, token string) (*security.AccessClaims, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	DeactivateAccount(ctx context.Context, userID string) error
	RequestAccountDeletion(ctx context.Context, userID string) error
	JWKS(ctx context.Context) (keys.JWKS, error)
	RotateSigningKey(ctx context.Context, caller *security.AccessClaims) (service.RotationResult, error)
	ListSigningKeys(ctx context.Context, caller *security.AccessClaims) ([]service.KeyInfo, error)
	RecordWebhookEvent(ctx context.Context, ev service.WebhookEvent) error
}

// Handler serves the identity routes.
type Handler struct {
	svc          AuthAPI
	webhookToken string
}

// New returns a Handler. webhookToken must be presented in X-Webhook-Token on
// webhook calls; when it is empty every webhook call is rejected.
func New(svc AuthAPI, webhookToken string) *Handler {
	return &Handler{svc: svc, webhookToken: webhookToken}
}

// Public mounts the routes that need no access token.
func (h *Handler) Public(r chi.Router) {
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Post("/v1/auth/register", h.Register)
	r.Post("/v1/auth/login", h.Login)
	r.Post("/v1/auth/refresh", h.Refresh)
	r.Post("/v1/auth/logout", h.Logout)
	r.Post("/v1/webhooks/events", h.Webhook)
}

// Protected mounts the routes that run behind middleware.Auth.
func (h *Handler) Protected(r chi.Router) {
	r.Post("/v1/account/password", h.ChangePassword)
	r.Post("/v1/account/deactivate", h.Deactivate)
	r.Post("/v1/account/deletion", h.RequestDeletion)
	r.Post("/v1/admin/signing-keys/rotate", h.RotateKeys)
	r.Get("/v1/admin/signing-keys", h.ListKeys)
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	WorkspaceID string `json:"workspace_id"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	WorkspaceID   string    `json:"workspace_id"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, r, err)
		return
	}
	u, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		WorkspaceID: req.WorkspaceID,
	})
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		WorkspaceID:   u.WorkspaceID,
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, r, err)
		return
	}
	meta := clientMeta(r)
	meta.DeviceID = req.DeviceID
	pair, err := h.svc.Login(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, toTokenResponse(pair))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, r, err)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, toTokenResponse(pair))
}

// Logout accepts a refresh token in the body, a Bearer access token, or both.
// The refresh token wins when both are given.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil {
			respond.Fail(w, r, err)
			return
		}
	}
	var caller *security.AccessClaims
	if token := middleware.ExtractBearer(r); token != "" {
		c, err := h.svc.VerifyAccess(r.Context(), token)
		if err != nil && req.RefreshToken == "" {
			respond.Fail(w, r, err)
			return
		}
		caller = c
	}
	if req.RefreshToken == "" && caller == nil {
		respond.Fail(w, r, apperr.Validation(service.CodeInvalidInput, "refresh_token or a bearer token is required"))
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken, caller); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.NoContent(w)
}

// JWKS is served bare, without the response envelope, so standard JWT
// libraries can consume it.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.svc.JWKS(r.Context())
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(set)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	var req changePasswordRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), caller.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	if err := h.svc.DeactivateAccount(r.Context(), caller.UserID); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *Handler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	if err := h.svc.RequestAccountDeletion(r.Context(), caller.UserID); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": string(userdomain.UserStatusPendingDeletion)})
}

type rotationResponse struct {
	NewKID string `json:"new_kid"`
	OldKID string `json:"old_kid,omitempty"`
}

type keyResponse struct {
	KID       string     `json:"kid"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

func (h *Handler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	rot, err := h.svc.RotateSigningKey(r.Context(), caller)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rotationResponse{NewKID: rot.NewKID, OldKID: rot.OldKID})
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.ClaimsFrom(r.Context())
	list, err := h.svc.ListSigningKeys(r.Context(), caller)
	if err != nil {
		respond.Fail(w, r, err)
		return
	}
	out := make([]keyResponse, len(list))
	for i, k := range list {
		out[i] = keyResponse{KID: k.KID, Status: string(k.Status), CreatedAt: k.CreatedAt, RetiredAt: k.RetiredAt}
	}
	respond.JSON(w, http.StatusOK, out)
}

type webhookRequest struct {
	Type   string         `json:"type"`
	UserID string         `json:"user_id"`
	Data   map[string]any `json:"data"`
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Webhook-Token")
	if h.webhookToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
		respond.Fail(w, r, apperr.Authentication(service.CodeInvalidToken, "invalid webhook token", nil))
		return
	}
	var req webhookRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Fail(w, r, err)
		return
	}
	if err := h.svc.RecordWebhookEvent(r.Context(), service.WebhookEvent{Type: req.Type, UserID: req.UserID, Data: req.Data}); err != nil {
		respond.Fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func clientMeta(r *http.Request) sessiondomain.Meta {
	return sessiondomain.Meta{IPAddress: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

func toTokenResponse(p *service.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        int64(p.ExpiresIn / time.Second),
		ExpiresAt:        p.ExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
		UserID:           p.UserID,
	}
}
