package keys

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saas-auth-core/internal/db/dbtest"
)

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	first, err := Generate(MinBits, base)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, first))

	dup, err := Generate(MinBits, base)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Create(ctx, dup), ErrConflict, "second Create must conflict")

	second, err := Generate(MinBits, base.Add(time.Hour))
	require.NoError(t, err)
	retiredAt := base.Add(time.Hour)
	require.NoError(t, store.Rotate(ctx, second, first.KID, retiredAt))

	third, err := Generate(MinBits, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, store.Rotate(ctx, third, first.KID, retiredAt), ErrConflict, "rotating a retired key must conflict")

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, second.KID, loaded[0].KID)
	assert.Equal(t, StatusActive, loaded[0].Status)
	assert.Nil(t, loaded[0].RetiredAt)
	assert.True(t, loaded[0].Private.Equal(second.Private))
	assert.Equal(t, first.KID, loaded[1].KID)
	assert.Equal(t, StatusRetired, loaded[1].Status)
	require.NotNil(t, loaded[1].RetiredAt)
	assert.True(t, loaded[1].RetiredAt.Equal(retiredAt), "retired_at = %v", loaded[1].RetiredAt)
	assert.True(t, loaded[1].CreatedAt.Equal(base), "created_at = %v", loaded[1].CreatedAt)

	require.NoError(t, store.Delete(ctx, first.KID))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, second.KID, loaded[0].KID)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreContract(t, store)
}

func TestFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}

func TestSQLStore(t *testing.T) {
	runStoreContract(t, NewSQLStore(dbtest.NewSQLite(t)))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	runStoreContract(t, NewRedisStore(client, "test:"))

	assert.True(t, mr.Exists("test:active"))
}

func TestManager_WithFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	m1 := NewManager(store, Options{RetireGrace: time.Hour})
	k1, err := m1.ActiveKey(ctx)
	require.NoError(t, err)

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	m2 := NewManager(reopened, Options{RetireGrace: time.Hour})
	k2, err := m2.ActiveKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, k1.KID, k2.KID)
	assert.False(t, m2.Degraded())
}
