package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"saas-auth-core/internal/security"
)

// FileStore keeps each key as <kid>.pem (PKCS#8, mode 0600) next to a
// <kid>.json metadata file. It serialises writers within one process only and
// is meant for single-node deployments.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

type fileMeta struct {
	KID       string     `json:"kid"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// NewFileStore creates dir with mode 0700 if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("key directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Load(context.Context) ([]SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() ([]SigningKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}
	var out []SigningKey
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read key metadata %s: %w", e.Name(), err)
		}
		var meta fileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode key metadata %s: %w", e.Name(), err)
		}
		pemBytes, err := os.ReadFile(s.pemPath(meta.KID))
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", meta.KID, err)
		}
		priv, err := security.ParsePrivateKeyPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", meta.KID, err)
		}
		out = append(out, SigningKey{
			KID:       meta.KID,
			Private:   priv,
			Status:    meta.Status,
			CreatedAt: meta.CreatedAt,
			RetiredAt: meta.RetiredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Create(_ context.Context, key SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadLocked()
	if err != nil {
		return err
	}
	if activeKID(existing) != "" {
		return ErrConflict
	}
	key.Status = StatusActive
	return s.writeKey(key)
}

func (s *FileStore) Rotate(_ context.Context, next SigningKey, retiredKID string, retiredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.loadLocked()
	if err != nil {
		return err
	}
	if activeKID(existing) != retiredKID {
		return ErrConflict
	}
	// Write the successor first: a crash in between leaves two active keys,
	// which Manager resolves in favour of the newest.
	next.Status = StatusActive
	if err := s.writeKey(next); err != nil {
		return err
	}
	for _, k := range existing {
		if k.KID != retiredKID {
			continue
		}
		at := retiredAt.UTC()
		return s.writeMeta(fileMeta{KID: k.KID, Status: StatusRetired, CreatedAt: k.CreatedAt, RetiredAt: &at})
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{s.metaPath(kid), s.pemPath(kid)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete key %s: %w", kid, err)
		}
	}
	return nil
}

func (s *FileStore) writeKey(k SigningKey) error {
	pemBytes, err := security.EncodePrivateKeyPEM(k.Private)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.pemPath(k.KID), pemBytes); err != nil {
		return err
	}
	return s.writeMeta(fileMeta{KID: k.KID, Status: k.Status, CreatedAt: k.CreatedAt.UTC(), RetiredAt: k.RetiredAt})
}

func (s *FileStore) writeMeta(meta fileMeta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.metaPath(meta.KID), raw)
}

func (s *FileStore) pemPath(kid string) string { return filepath.Join(s.dir, kid+".pem") }
func (s *FileStore) metaPath(kid string) string { return filepath.Join(s.dir, kid+".json") }

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func activeKID(ks []SigningKey) string {
	for _, k := range ks {
		if k.Status == StatusActive {
			return k.KID
		}
	}
	return ""
}
