// Package lockout tracks consecutive failed logins per account and locks the
// account for a fixed window once a threshold is reached.
//
// State lives on the user row (failed_login_count, locked_until) and is
// changed only through the Store's atomic operations, so concurrent failures
// never under-count.
package lockout

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// Store is implemented by the user repository.
type Store interface {
	IncrementFailedLogin(ctx context.Context, userID string, threshold int, lockUntil, now time.Time) (int, *time.Time, error)
	ResetFailedLogin(ctx context.Context, userID string, now time.Time) error
}

// State is the lockout view of a user row as read at the start of a login.
type State struct {
	FailedCount int
	LockedUntil *time.Time
}

// LockedError is returned while an account is locked.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %d more minute(s)", e.RemainingMinutes)
}

// Failure is the outcome of recording a failed attempt.
type Failure struct {
	FailedCount       int
	RemainingAttempts int
	// Locked is set when this failure locked the account.
	Locked           bool
	LockedUntil      *time.Time
	RemainingMinutes int
}

// Guard applies the lockout policy.
type Guard struct {
	store     Store
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewGuard returns a Guard; non-positive threshold or duration select the
// defaults. now may be nil.
func NewGuard(store Store, threshold int, duration time.Duration, now func() time.Time) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, threshold: threshold, duration: duration, now: now}
}

func (g *Guard) Threshold() int { return g.threshold }

// Check must run before any password comparison. It returns *LockedError
// while the lock is in force. An expired lock is cleared here, which resets
// the counter; no background sweep is needed.
func (g *Guard) Check(ctx context.Context, userID string, st State) error {
	if st.LockedUntil == nil {
		return nil
	}
	now := g.now()
	if now.Before(*st.LockedUntil) {
		return &LockedError{Until: *st.LockedUntil, RemainingMinutes: remainingMinutes(*st.LockedUntil, now)}
	}
	if err := g.store.ResetFailedLogin(ctx, userID, now); err != nil {
		return fmt.Errorf("clear expired lock: %w", err)
	}
	return nil
}

// RecordFailure counts one failed attempt and locks the account when the
// threshold is reached.
func (g *Guard) RecordFailure(ctx context.Context, userID string) (Failure, error) {
	now := g.now()
	count, lockedUntil, err := g.store.IncrementFailedLogin(ctx, userID, g.threshold, now.Add(g.duration), now)
	if err != nil {
		return Failure{}, err
	}
	f := Failure{FailedCount: count, RemainingAttempts: g.threshold - count}
	if f.RemainingAttempts < 0 {
		f.RemainingAttempts = 0
	}
	if lockedUntil != nil && now.Before(*lockedUntil) {
		f.Locked = true
		f.LockedUntil = lockedUntil
		f.RemainingMinutes = remainingMinutes(*lockedUntil, now)
	}
	return f, nil
}

// RecordSuccess resets the counter after a successful login.
func (g *Guard) RecordSuccess(ctx context.Context, userID string) error {
	return g.store.ResetFailedLogin(ctx, userID, g.now())
}

func remainingMinutes(until, now time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
