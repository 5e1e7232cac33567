package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"saas-auth-core/internal/security"
)

// Options configures a Manager.
type Options struct {
	// Bits is the RSA modulus size for generated keys; values below MinBits are raised.
	Bits int
	// RetireGrace is how long a retired key keeps verifying tokens. It must be
	// at least the access token lifetime.
	RetireGrace time.Duration
	// ReloadInterval bounds how often an unknown kid may trigger a store reload.
	ReloadInterval time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Rotation reports the keys involved in a rotation. Old is nil when the
// rotation created the very first key.
type Rotation struct {
	New SigningKey
	Old *SigningKey
}

// keySet is an immutable snapshot. Readers never lock; writers build a new set
// and swap the pointer.
type keySet struct {
	active *SigningKey
	// keys holds the active key first, then retired keys newest first.
	keys []*SigningKey
}

func (s *keySet) find(kid string) *SigningKey {
	for _, k := range s.keys {
		if k.KID == kid {
			return k
		}
	}
	return nil
}

// Manager holds the active signing key and every retired key still inside its
// grace window. It implements security.KeySource.
//
// When the store cannot be read or written on first use the manager falls back
// to an in-memory key and reports Degraded; tokens signed in that mode do not
// survive a restart.
type Manager struct {
	store Store
	opts  Options
	log   *slog.Logger

	mu         sync.Mutex // serialises init, reload and rotation
	set        atomic.Pointer[keySet]
	degraded   atomic.Bool
	lastReload time.Time
}

var _ security.KeySource = (*Manager)(nil)

func NewManager(store Store, opts Options) *Manager {
	if opts.Bits < MinBits {
		opts.Bits = MinBits
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, opts: opts, log: logger.With("component", "keys")}
}

// Degraded reports whether the manager is running on an ephemeral key.
func (m *Manager) Degraded() bool { return m.degraded.Load() }

// ActiveKey returns the current signing key, generating and persisting the
// first one on demand.
func (m *Manager) ActiveKey(ctx context.Context) (SigningKey, error) {
	set, err := m.ensure(ctx)
	if err != nil {
		return SigningKey{}, err
	}
	return *set.active, nil
}

// SigningKey implements security.KeySource.
func (m *Manager) SigningKey(ctx context.Context) (string, *rsa.PrivateKey, error) {
	k, err := m.ActiveKey(ctx)
	if err != nil {
		return "", nil, err
	}
	return k.KID, k.Private, nil
}

// VerificationKey returns the public key for kid if that key may still
// verify tokens. An unseen kid triggers at most one rate-limited reload so
// keys rotated by another instance are picked up.
func (m *Manager) VerificationKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}
	k := set.find(kid)
	if k == nil && m.maybeReload(ctx) {
		k = m.set.Load().find(kid)
	}
	if k == nil || !k.Verifiable(m.opts.Now(), m.opts.RetireGrace) {
		return nil, security.ErrUnknownKey
	}
	return k.Public(), nil
}

// Keys lists the snapshot: the active key first, then retired keys.
func (m *Manager) Keys(ctx context.Context) ([]SigningKey, error) {
	set, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SigningKey, len(set.keys))
	for i, k := range set.keys {
		out[i] = *k
	}
	return out, nil
}

// JWKS publishes the active key and retired keys still inside their grace
// window. Pruned keys never appear.
func (m *Manager) JWKS(ctx context.Context) (JWKS, error) {
	set, err := m.ensure(ctx)
	if err != nil {
		return JWKS{}, err
	}
	now := m.opts.Now()
	doc := JWKS{Keys: make([]JWK, 0, len(set.keys))}
	for _, k := range set.keys {
		if k.Verifiable(now, m.opts.RetireGrace) {
			doc.Keys = append(doc.Keys, toJWK(k))
		}
	}
	return doc, nil
}

// Rotate generates a new active key and retires the previous one. Retired
// keys past their grace window are pruned in the same pass. Concurrent calls
// are serialised; each observes the result of the previous one.
func (m *Manager) Rotate(ctx context.Context) (Rotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.set.Load()
	if set == nil || set.active == nil {
		var (
			created bool
			err     error
		)
		if set, created, err = m.initLocked(ctx); err != nil {
			return Rotation{}, err
		}
		if created {
			return Rotation{New: *set.active}, nil
		}
	}
	now := m.opts.Now().UTC()
	next, err := Generate(m.opts.Bits, now)
	if err != nil {
		return Rotation{}, err
	}
	old := *set.active
	if !m.degraded.Load() {
		if err := m.store.Rotate(ctx, next, old.KID, now); err != nil {
			if errors.Is(err, ErrConflict) {
				_ = m.reloadLocked(ctx)
			}
			return Rotation{}, fmt.Errorf("rotate signing key: %w", err)
		}
	}
	old.Status = StatusRetired
	old.RetiredAt = &now

	keys := []*SigningKey{&next, &old}
	for _, k := range set.keys {
		if k.KID != old.KID {
			keys = append(keys, k)
		}
	}
	m.set.Store(&keySet{active: &next, keys: m.pruneLocked(ctx, keys, now)})
	m.log.Info("signing key rotated", "new_kid", next.KID, "old_kid", old.KID, "degraded", m.degraded.Load())
	return Rotation{New: next, Old: &old}, nil
}

// Prune deletes retired keys whose grace window has passed and returns how
// many were dropped.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.set.Load()
	if set == nil || set.active == nil {
		return 0, nil
	}
	keys := append([]*SigningKey(nil), set.keys...)
	kept := m.pruneLocked(ctx, keys, m.opts.Now().UTC())
	dropped := len(set.keys) - len(kept)
	if dropped > 0 {
		m.set.Store(&keySet{active: set.active, keys: kept})
	}
	return dropped, nil
}

// Reload replaces the snapshot with the store's contents. It is a no-op in
// degraded mode so the ephemeral key keeps verifying its own tokens.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set.Load() == nil {
		_, _, err := m.initLocked(ctx)
		return err
	}
	return m.reloadLocked(ctx)
}

func (m *Manager) ensure(ctx context.Context) (*keySet, error) {
	if set := m.set.Load(); set != nil && set.active != nil {
		return set, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.set.Load(); set != nil && set.active != nil {
		return set, nil
	}
	set, _, err := m.initLocked(ctx)
	return set, err
}

// initLocked loads the store, creating the first key if none is active.
// created reports whether this call generated that first key.
func (m *Manager) initLocked(ctx context.Context) (set *keySet, created bool, err error) {
	now := m.opts.Now().UTC()
	loaded, err := m.store.Load(ctx)
	if err != nil {
		set, err = m.degradeLocked(err)
		return set, set != nil, err
	}
	set = m.build(loaded)
	if set.active != nil {
		m.storeSet(set, now)
		return set, false, nil
	}
	key, err := Generate(m.opts.Bits, now)
	if err != nil {
		return nil, false, err
	}
	if err := m.store.Create(ctx, key); err != nil {
		// Another instance may have created the first key in the meantime.
		if again, lerr := m.store.Load(ctx); lerr == nil {
			if set = m.build(again); set.active != nil {
				m.storeSet(set, now)
				return set, false, nil
			}
		}
		set, err = m.degradeLocked(err)
		return set, set != nil, err
	}
	m.log.Info("signing key created", "kid", key.KID)
	set = m.build(append([]SigningKey{key}, loaded...))
	m.storeSet(set, now)
	return set, true, nil
}

func (m *Manager) reloadLocked(ctx context.Context) error {
	if m.degraded.Load() {
		return nil
	}
	now := m.opts.Now().UTC()
	loaded, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("signing key reload failed", "error", err)
		return err
	}
	set := m.build(loaded)
	if set.active == nil {
		return errors.New("signing key store has no active key")
	}
	m.storeSet(set, now)
	return nil
}

func (m *Manager) maybeReload(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded.Load() || m.opts.Now().Sub(m.lastReload) < m.opts.ReloadInterval {
		return false
	}
	return m.reloadLocked(ctx) == nil
}

func (m *Manager) storeSet(set *keySet, now time.Time) {
	m.set.Store(set)
	m.lastReload = now
}

func (m *Manager) degradeLocked(cause error) (*keySet, error) {
	key, err := Generate(m.opts.Bits, m.opts.Now())
	if err != nil {
		return nil, errors.Join(security.ErrNoActiveKey, cause, err)
	}
	m.degraded.Store(true)
	m.log.Warn("signing key store unavailable, using ephemeral key; issued tokens will not survive a restart",
		"kid", key.KID, "error", cause)
	set := &keySet{active: &key, keys: []*SigningKey{&key}}
	m.set.Store(set)
	return set, nil
}

// build orders loaded keys and resolves more than one active key (a crash
// mid-rotation) in favour of the newest.
func (m *Manager) build(loaded []SigningKey) *keySet {
	set := &keySet{}
	var retired []*SigningKey
	for i := range loaded {
		k := loaded[i]
		switch {
		case k.Status != StatusActive:
			retired = append(retired, &k)
		case set.active == nil:
			set.active = &k
		case k.CreatedAt.After(set.active.CreatedAt):
			retired = append(retired, demote(*set.active, k.CreatedAt))
			set.active = &k
		default:
			retired = append(retired, demote(k, set.active.CreatedAt))
		}
	}
	sort.SliceStable(retired, func(i, j int) bool { return retiredAfter(retired[i], retired[j]) })
	if set.active != nil {
		set.keys = append(set.keys, set.active)
	}
	set.keys = append(set.keys, retired...)
	return set
}

// pruneLocked drops retired keys whose grace window has passed and deletes
// them from the store. Store errors are logged; the key is dropped from
// memory either way.
func (m *Manager) pruneLocked(ctx context.Context, keys []*SigningKey, now time.Time) []*SigningKey {
	kept := keys[:0]
	for _, k := range keys {
		if k.Verifiable(now, m.opts.RetireGrace) {
			kept = append(kept, k)
			continue
		}
		if m.degraded.Load() {
			continue
		}
		if err := m.store.Delete(ctx, k.KID); err != nil {
			m.log.Warn("prune signing key failed", "kid", k.KID, "error", err)
			continue
		}
		m.log.Info("signing key pruned", "kid", k.KID)
	}
	return kept
}

func demote(k SigningKey, at time.Time) *SigningKey {
	k.Status = StatusRetired
	t := at.UTC()
	k.RetiredAt = &t
	return &k
}

func retiredAfter(a, b *SigningKey) bool {
	if a.RetiredAt == nil || b.RetiredAt == nil {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.RetiredAt.After(*b.RetiredAt)
}
