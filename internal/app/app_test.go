package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas-auth-core/internal/config"
	"saas-auth-core/internal/db/dbtest"
	"saas-auth-core/internal/db/migrate"
	"saas-auth-core/internal/identity/service"
	"saas-auth-core/internal/keys"
	sessiondomain "saas-auth-core/internal/session/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		HTTPAddr:           ":0",
		DatabaseDriver:     config.DriverSQLite,
		SQLitePath:         filepath.Join(dir, "auth.db"),
		KeyStore:           config.KeyStoreFile,
		KeyDir:             filepath.Join(dir, "keys"),
		JWTIssuer:          "saas-auth",
		JWTAudience:        "saas-api",
		BcryptCost:         4,
		LockoutThreshold:   5,
		RefreshReusePolicy: config.ReusePolicyReject,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_ServesLogin(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, migrate.RunSQLite(cfg.SQLitePath, "up"))
	ctx := context.Background()

	a, err := New(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	_, err = a.Auth.Register(ctx, service.RegisterInput{Email: "ada@example.com", Password: "Correct-Horse-1"})
	require.NoError(t, err)
	pair, err := a.Auth.Login(ctx, "ada@example.com", "Correct-Horse-1", sessiondomain.Meta{})
	require.NoError(t, err)
	_, err = a.Auth.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, a.Keys.Degraded())
	require.NoError(t, a.Policy.HealthCheck(ctx))
}

func TestNew_BadPolicyFile(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestOpenKeyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		cfg := &config.Config{KeyStore: config.KeyStoreFile, KeyDir: t.TempDir()}
		store, closeFn, err := OpenKeyStore(cfg, nil)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &keys.FileStore{}, store)
	})

	t.Run("database", func(t *testing.T) {
		database := dbtest.NewSQLite(t)
		store, closeFn, err := OpenKeyStore(&config.Config{KeyStore: config.KeyStoreDatabase}, database)
		require.NoError(t, err)
		defer closeFn()
		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{KeyStore: config.KeyStoreRedis, RedisURL: "redis://" + mr.Addr() + "/0", RedisKeyPrefix: "test:"}
		store, closeFn, err := OpenKeyStore(cfg, nil)
		require.NoError(t, err)
		defer closeFn()

		m := keys.NewManager(store, keys.Options{Logger: quietLogger()})
		active, err := m.ActiveKey(ctx)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:key:"+active.KID))
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, _, err := OpenKeyStore(&config.Config{KeyStore: config.KeyStoreRedis, RedisURL: "mysql://nope"}, nil)
		require.Error(t, err)
	})
}

type fakePurger struct {
	cutoff time.Time
	err    error
}

func (f *fakePurger) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

type fakePruner struct {
	reloadErr error
	pruned    bool
}

func (f *fakePruner) Reload(context.Context) error { return f.reloadErr }

func (f *fakePruner) Prune(context.Context) (int, error) {
	f.pruned = true
	return 1, nil
}

func TestSweeper_Run(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	sessions := &fakePurger{}
	pruner := &fakePruner{}
	s := NewSweeper(sessions, pruner, 24*time.Hour, quietLogger())
	s.now = func() time.Time { return now }

	s.Run(context.Background())
	assert.Equal(t, now.Add(-24*time.Hour), sessions.cutoff)
	assert.True(t, pruner.pruned)
}

func TestSweeper_SkipsPruneWhenReloadFails(t *testing.T) {
	sessions := &fakePurger{err: errors.New("db down")}
	pruner := &fakePruner{reloadErr: errors.New("store down")}
	s := NewSweeper(sessions, pruner, time.Hour, quietLogger())

	s.Run(context.Background())
	assert.False(t, pruner.pruned)
}
