// Package app wires configuration into the stores, key manager, policy engine and
// auth service shared by the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"saas-auth-core/internal/audit"
	auditrepo "saas-auth-core/internal/audit/repository"
	"saas-auth-core/internal/config"
	"saas-auth-core/internal/db"
	"saas-auth-core/internal/identity/service"
	"saas-auth-core/internal/keys"
	"saas-auth-core/internal/lockout"
	"saas-auth-core/internal/policy/engine"
	"saas-auth-core/internal/security"
	sessionrepo "saas-auth-core/internal/session/repository"
	telemetry "saas-auth-core/internal/telemetry/otel"
	userrepo "saas-auth-core/internal/user/repository"
)

// App holds the assembled dependencies. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	DB        *db.DB
	Users     *userrepo.SQLRepository
	Sessions  *sessionrepo.SQLRepository
	Keys      *keys.Manager
	Policy    *engine.OPAEvaluator
	Telemetry *telemetry.Providers
	Metrics   *telemetry.Metrics
	Auth      *service.AuthService

	closers []func(context.Context) error
}

// New opens the database and key store, builds telemetry and the policy engine, and
// returns the assembled App. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Telemetry, err = telemetry.NewProviders(ctx, telemetry.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "saas-auth-core",
		Insecure:    cfg.OTLPInsecure,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry.SetGlobal()
	a.closers = append(a.closers, a.Telemetry.Shutdown)
	if a.Metrics, err = telemetry.NewMetrics(a.Telemetry.MeterProvider); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if a.DB, err = OpenDatabase(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.DB.Close() })
	a.Users = userrepo.NewSQLRepository(a.DB)
	a.Sessions = sessionrepo.NewSQLRepository(a.DB)

	store, closeStore, err := OpenKeyStore(cfg, a.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeStore() })
	a.Keys = keys.NewManager(store, keys.Options{
		Bits:        cfg.RSAKeyBits,
		RetireGrace: cfg.RetireGrace(),
		Logger:      log,
	})

	policy := ""
	if cfg.PolicyFile != "" {
		b, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		policy = string(b)
	}
	if a.Policy, err = engine.NewOPAEvaluator(ctx, policy); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	events := auditrepo.NewSQLRepository(a.DB)
	sink := audit.NewLogger(events,
		audit.WithLogger(log),
		audit.WithMirror(telemetry.NewAuditMirror(a.Telemetry.LoggerProvider)),
		audit.WithFailureHook(a.Metrics.AuditWriteFailed),
	)
	a.Auth = service.NewAuthService(service.Deps{
		Users:    a.Users,
		Sessions: a.Sessions,
		Events:   events,
		Keys:     a.Keys,
		Tokens:   security.NewTokenProvider(a.Keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), nil),
		Hasher:   security.NewBcrypt(cfg.BcryptCost),
		Lockout:  lockout.NewGuard(a.Users, cfg.LockoutThreshold, cfg.LockoutWindow(), nil),
		Audit:    sink,
		Policy:   a.Policy,
		Metrics:  a.Metrics,
		Logger:   log,
	}, service.Settings{
		RefreshTTL:           cfg.RefreshTTL(),
		ReusePolicy:          cfg.RefreshReusePolicy,
		RequireEmailVerified: cfg.RequireEmailVerified,
	})
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenDatabase opens the configured relational store.
func OpenDatabase(cfg *config.Config) (*db.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		d, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		return d, nil
	default:
		d, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		return d, nil
	}
}

// OpenKeyStore returns the configured signing key store and a function releasing
// any connection it holds.
func OpenKeyStore(cfg *config.Config, database *db.DB) (keys.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.KeyStore {
	case config.KeyStoreDatabase:
		return keys.NewSQLStore(database), noop, nil
	case config.KeyStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("key store: parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		return keys.NewRedisStore(client, cfg.RedisKeyPrefix), client.Close, nil
	default:
		fs, err := keys.NewFileStore(cfg.KeyDir)
		if err != nil {
			return nil, nil, fmt.Errorf("key store: %w", err)
		}
		return fs, noop, nil
	}
}
