// Package server assembles the HTTP router and server around the auth service.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audithandler "saas-auth-core/internal/audit/handler"
	healthhandler "saas-auth-core/internal/health/handler"
	identityhandler "saas-auth-core/internal/identity/handler"
	"saas-auth-core/internal/identity/service"
	"saas-auth-core/internal/server/middleware"
	sessionhandler "saas-auth-core/internal/session/handler"
)

// Deps holds the router's dependencies. Auth is required.
type Deps struct {
	Auth *service.AuthService
	// HealthPinger is used by /healthz for readiness (e.g. *sql.DB). If nil, the DB check is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by /healthz (e.g. the OPA evaluator). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	// KeyStatus reports a degraded key manager on /healthz.
	KeyStatus healthhandler.KeyStatus
	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string
	// WebhookToken guards POST /v1/webhooks/events. Empty rejects every call.
	WebhookToken string
	// ServiceName names the otelhttp spans.
	ServiceName string
	Logger      *slog.Logger
}

// NewRouter returns the HTTP handler for every route.
//
// Route → handler mapping:
//   - /healthz                      → internal/health/handler
//   - /.well-known/jwks.json, /v1/auth/*, /v1/account/*, /v1/admin/*, /v1/webhooks/*
//     → internal/identity/handler
//   - /v1/sessions                  → internal/session/handler
//   - /v1/audit/events              → internal/audit/handler
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	name := deps.ServiceName
	if name == "" {
		name = "saas-auth-core"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Telemetry(name))
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS(deps.CORSOrigins))
	r.Use(middleware.ClientInfo)

	r.Method(http.MethodGet, "/healthz", healthhandler.New(deps.HealthPinger, deps.HealthPolicyChecker, deps.KeyStatus))

	identity := identityhandler.New(deps.Auth, deps.WebhookToken)
	identity.Public(r)

	r.Group(func(protected chi.Router) {
		protected.Use(middleware.Auth(deps.Auth))
		identity.Protected(protected)
		sessionhandler.New(deps.Auth).Routes(protected)
		audithandler.New(deps.Auth).Routes(protected)
	})
	return r
}

// NewHTTPServer wraps handler with conservative timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
