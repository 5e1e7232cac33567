package keys

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConflict is returned when the stored active key is not the one the
// caller expected, usually because another instance rotated first.
var ErrConflict = errors.New("signing key changed concurrently")

// Store persists signing keys. Implementations must make Create and Rotate
// conditional on the current active key so that at most one key is active.
type Store interface {
	Load(ctx context.Context) ([]SigningKey, error)
	// Create stores key as the first active key; ErrConflict if one exists.
	Create(ctx context.Context, key SigningKey) error
	// Rotate retires retiredKID and stores next as active in one step;
	// ErrConflict if retiredKID is no longer active.
	Rotate(ctx context.Context, next SigningKey, retiredKID string, retiredAt time.Time) error
	Delete(ctx context.Context, kid string) error
}

// MemoryStore keeps keys in process memory. Used in tests and single-process
// tooling; keys do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]SigningKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]SigningKey)}
}

func (s *MemoryStore) Load(context.Context) ([]SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, key SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked() != "" {
		return ErrConflict
	}
	key.Status = StatusActive
	s.keys[key.KID] = key
	return nil
}

func (s *MemoryStore) Rotate(_ context.Context, next SigningKey, retiredKID string, retiredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked() != retiredKID {
		return ErrConflict
	}
	old := s.keys[retiredKID]
	old.Status = StatusRetired
	at := retiredAt
	old.RetiredAt = &at
	s.keys[retiredKID] = old
	next.Status = StatusActive
	s.keys[next.KID] = next
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, kid)
	return nil
}

func (s *MemoryStore) activeLocked() string {
	for kid, k := range s.keys {
		if k.Status == StatusActive {
			return kid
		}
	}
	return ""
}
