package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"saas-auth-core/internal/security"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context) ([]SigningKey, error) { return nil, f.err }
func (f failingStore) Create(context.Context, SigningKey) error { return f.err }
func (f failingStore) Rotate(context.Context, SigningKey, string, time.Time) error {
	return f.err
}
func (f failingStore) Delete(context.Context, string) error { return f.err }

func newTestManager(store Store, clock *testClock) *Manager {
	return NewManager(store, Options{
		RetireGrace:    20 * time.Minute,
		ReloadInterval: time.Second,
		Now:            clock.Now,
		Logger:         slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
}

func TestManager_ActiveKeyCreatedOnFirstUse(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(store, newTestClock())
	ctx := context.Background()

	k1, err := m.ActiveKey(ctx)
	if err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}
	if k1.Status != StatusActive || k1.KID == "" {
		t.Fatalf("unexpected key: %+v", k1)
	}
	if k1.Private.N.BitLen() < MinBits {
		t.Errorf("key size = %d bits", k1.Private.N.BitLen())
	}
	k2, _ := m.ActiveKey(ctx)
	if k1.KID != k2.KID {
		t.Errorf("ActiveKey should be stable: %s vs %s", k1.KID, k2.KID)
	}
	stored, _ := store.Load(ctx)
	if len(stored) != 1 || stored[0].KID != k1.KID {
		t.Errorf("stored keys = %+v", stored)
	}
	if m.Degraded() {
		t.Error("manager should not be degraded")
	}
}

func TestManager_RotateFirstKey(t *testing.T) {
	m := newTestManager(NewMemoryStore(), newTestClock())
	rot, err := m.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rot.Old != nil {
		t.Errorf("first rotation should have no previous key, got %s", rot.Old.KID)
	}
	active, _ := m.ActiveKey(context.Background())
	if active.KID != rot.New.KID {
		t.Errorf("active = %s, want %s", active.KID, rot.New.KID)
	}
}

func TestManager_RotateKeepsOldKeyVerifying(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(NewMemoryStore(), clock)
	ctx := context.Background()
	first, _ := m.ActiveKey(ctx)

	clock.Advance(time.Minute)
	rot, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rot.Old == nil || rot.Old.KID != first.KID {
		t.Fatalf("Old = %+v, want %s", rot.Old, first.KID)
	}
	if rot.Old.Status != StatusRetired || rot.Old.RetiredAt == nil {
		t.Errorf("old key not retired: %+v", rot.Old)
	}
	if rot.New.KID == first.KID {
		t.Fatal("rotation reused the old kid")
	}
	kid, _, _ := m.SigningKey(ctx)
	if kid != rot.New.KID {
		t.Errorf("SigningKey kid = %s, want %s", kid, rot.New.KID)
	}
	for _, k := range []string{first.KID, rot.New.KID} {
		if _, err := m.VerificationKey(ctx, k); err != nil {
			t.Errorf("VerificationKey(%s): %v", k, err)
		}
	}
	doc, _ := m.JWKS(ctx)
	if len(doc.Keys) != 2 || doc.Keys[0].Kid != rot.New.KID || doc.Keys[1].Kid != first.KID {
		t.Errorf("JWKS kids = %+v", doc.Keys)
	}
}

func TestManager_PrunesAfterGrace(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	m := newTestManager(store, clock)
	ctx := context.Background()
	first, _ := m.ActiveKey(ctx)
	if _, err := m.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	clock.Advance(19 * time.Minute)
	if _, err := m.VerificationKey(ctx, first.KID); err != nil {
		t.Fatalf("inside grace: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := m.VerificationKey(ctx, first.KID); !errors.Is(err, security.ErrUnknownKey) {
		t.Fatalf("past grace: want ErrUnknownKey, got %v", err)
	}
	doc, _ := m.JWKS(ctx)
	for _, k := range doc.Keys {
		if k.Kid == first.KID {
			t.Error("expired key still published")
		}
	}

	n, err := m.Prune(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	stored, _ := store.Load(ctx)
	for _, k := range stored {
		if k.KID == first.KID {
			t.Error("expired key still in store after prune")
		}
	}
}

func TestManager_JWKSEncoding(t *testing.T) {
	m := newTestManager(NewMemoryStore(), newTestClock())
	ctx := context.Background()
	active, _ := m.ActiveKey(ctx)
	doc, err := m.JWKS(ctx)
	if err != nil {
		t.Fatalf("JWKS: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("JWKS has %d keys", len(doc.Keys))
	}
	jwk := doc.Keys[0]
	if jwk.Kty != "RSA" || jwk.Use != "sig" || jwk.Kid != active.KID {
		t.Errorf("jwk = %+v", jwk)
	}
	body, err := json.Marshal(jwk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var members map[string]any
	if err := json.Unmarshal(body, &members); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, name := range []string{"kty", "use", "kid", "n", "e"} {
		if _, ok := members[name]; !ok {
			t.Errorf("jwk missing %q: %s", name, body)
		}
	}
	if len(members) != 5 {
		t.Errorf("jwk has extra members: %s", body)
	}
	if jwk.E != "AQAB" {
		t.Errorf("e = %q, want AQAB", jwk.E)
	}
	if strings.ContainsAny(jwk.N, "+/=") {
		t.Errorf("n is not base64url: %q", jwk.N)
	}
	raw, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		t.Fatalf("decode n: %v", err)
	}
	if new(big.Int).SetBytes(raw).Cmp(active.Private.N) != 0 {
		t.Error("n does not match modulus")
	}
	if Thumbprint(active.Public()) != active.KID {
		t.Error("kid is not the key thumbprint")
	}
}

func TestManager_DegradedWhenStoreUnavailable(t *testing.T) {
	var logs bytes.Buffer
	m := NewManager(failingStore{err: errors.New("disk on fire")}, Options{
		RetireGrace: time.Minute,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	ctx := context.Background()
	key, err := m.ActiveKey(ctx)
	if err != nil {
		t.Fatalf("ActiveKey in degraded mode: %v", err)
	}
	if !m.Degraded() {
		t.Fatal("manager should report degraded")
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "ephemeral") {
		t.Errorf("missing warning log: %s", logs.String())
	}
	if _, err := m.VerificationKey(ctx, key.KID); err != nil {
		t.Errorf("ephemeral key should verify: %v", err)
	}
	rot, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate in degraded mode: %v", err)
	}
	if rot.Old == nil || rot.Old.KID != key.KID {
		t.Errorf("rotation Old = %+v", rot.Old)
	}
}

func TestManager_ConcurrentRotateSerialised(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(store, newTestClock())
	ctx := context.Background()
	if _, err := m.ActiveKey(ctx); err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}

	const n = 4
	var wg sync.WaitGroup
	results := make([]Rotation, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Rotate(ctx)
		}(i)
	}
	wg.Wait()

	seenNew := make(map[string]bool)
	seenOld := make(map[string]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Rotate %d: %v", i, errs[i])
		}
		if seenNew[results[i].New.KID] || seenOld[results[i].Old.KID] {
			t.Fatalf("two rotations shared a key: %+v", results[i])
		}
		seenNew[results[i].New.KID] = true
		seenOld[results[i].Old.KID] = true
	}
	stored, _ := store.Load(ctx)
	active := 0
	for _, k := range stored {
		if k.Status == StatusActive {
			active++
		}
	}
	if active != 1 || len(stored) != n+1 {
		t.Errorf("store has %d keys, %d active", len(stored), active)
	}
}

func TestManager_PicksUpKeysRotatedElsewhere(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	a := newTestManager(store, clock)
	b := newTestManager(store, clock)
	ctx := context.Background()

	ka, _ := a.ActiveKey(ctx)
	kb, _ := b.ActiveKey(ctx)
	if ka.KID != kb.KID {
		t.Fatalf("instances disagree on first key: %s vs %s", ka.KID, kb.KID)
	}
	rot, err := a.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := b.VerificationKey(ctx, rot.New.KID); err != nil {
		t.Fatalf("b should reload and find %s: %v", rot.New.KID, err)
	}

	// b's snapshot still names the old active key only until it reloads; a
	// stale rotation is refused rather than forking the key set.
	c := newTestManager(store, clock)
	if _, err := c.ActiveKey(ctx); err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}
	if _, err := a.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := c.Rotate(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale rotate: want ErrConflict, got %v", err)
	}
	if _, err := c.Rotate(ctx); err != nil {
		t.Fatalf("rotate after reload: %v", err)
	}
}

func TestManager_UnknownKidReloadIsRateLimited(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(NewMemoryStore(), clock)
	ctx := context.Background()
	if _, err := m.ActiveKey(ctx); err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := m.VerificationKey(ctx, "forged"); !errors.Is(err, security.ErrUnknownKey) {
		t.Fatalf("want ErrUnknownKey, got %v", err)
	}
	before := m.lastReload
	if !before.Equal(clock.Now()) {
		t.Fatalf("first unknown kid should reload, lastReload = %v", before)
	}
	if _, err := m.VerificationKey(ctx, "forged-again"); !errors.Is(err, security.ErrUnknownKey) {
		t.Fatalf("want ErrUnknownKey, got %v", err)
	}
	if !m.lastReload.Equal(before) {
		t.Error("reload should be rate limited")
	}
}

func TestManager_TwoActiveKeysResolvedToNewest(t *testing.T) {
	clock := newTestClock()
	older, _ := Generate(MinBits, clock.Now())
	newer, _ := Generate(MinBits, clock.Now().Add(time.Minute))
	store := NewMemoryStore()
	store.keys[older.KID] = older
	store.keys[newer.KID] = newer

	m := newTestManager(store, clock)
	active, err := m.ActiveKey(context.Background())
	if err != nil {
		t.Fatalf("ActiveKey: %v", err)
	}
	if active.KID != newer.KID {
		t.Errorf("active = %s, want newest %s", active.KID, newer.KID)
	}
	if _, err := m.VerificationKey(context.Background(), older.KID); err != nil {
		t.Errorf("older key should still verify inside grace: %v", err)
	}
}
