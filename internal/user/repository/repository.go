package repository

import (
	"context"
	"time"

	"saas-auth-core/internal/user/domain"
)

// Repository defines persistence for users. Lookups return (nil, nil) when no
// row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create returns domain.ErrEmailTaken if the email is already registered.
	Create(ctx context.Context, u *domain.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
	UpdateStatus(ctx context.Context, id string, status domain.UserStatus, now time.Time) error
	// IncrementFailedLogin atomically bumps the failure counter and, once it
	// reaches threshold, sets locked_until. Returns the post-increment state.
	IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error)
	// ResetFailedLogin zeroes the counter and clears locked_until.
	ResetFailedLogin(ctx context.Context, id string, now time.Time) error
}
