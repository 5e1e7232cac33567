package app

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger deletes sessions that expired before cutoff.
type SessionPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// KeyPruner drops retired keys outside their grace window.
type KeyPruner interface {
	Reload(ctx context.Context) error
	Prune(ctx context.Context) (int, error)
}

// Sweeper runs the periodic maintenance jobs of cmd/worker.
type Sweeper struct {
	sessions SessionPurger
	keys     KeyPruner
	// retain keeps expired rows around for a while so a late replay is still
	// reported as reuse rather than as an unknown token.
	retain time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewSweeper returns a Sweeper. Expired sessions are kept for retain before deletion.
func NewSweeper(sessions SessionPurger, keys KeyPruner, retain time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{sessions: sessions, keys: keys, retain: retain, log: log.With("component", "sweeper"), now: time.Now}
}

// Run performs one pass. Failures are logged; the next pass retries.
func (s *Sweeper) Run(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.retain)
	if n, err := s.sessions.DeleteExpired(ctx, cutoff); err != nil {
		s.log.Error("delete expired sessions", "error", err)
	} else if n > 0 {
		s.log.Info("deleted expired sessions", "count", n, "cutoff", cutoff)
	}

	if err := s.keys.Reload(ctx); err != nil {
		s.log.Warn("reload signing keys", "error", err)
		return
	}
	if n, err := s.keys.Prune(ctx); err != nil {
		s.log.Error("prune signing keys", "error", err)
	} else if n > 0 {
		s.log.Info("pruned retired signing keys", "count", n)
	}
}
