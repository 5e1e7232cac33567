package repository

import (
	"context"
	"time"

	"saas-auth-core/internal/session/domain"
	userdomain "saas-auth-core/internal/user/domain"
)

// MintFunc is called inside the rotation transaction once the successor row is
// written, with the session owner's ID, email, role, workspace and status. An
// error rolls the rotation back, so the presented token stays valid.
type MintFunc func(owner *userdomain.User) error

// Repository defines persistence for sessions. Lookups return (nil, nil) when
// no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Rotate consumes the session identified by oldRefreshHash and inserts
	// next in one transaction. UserID, DeviceID and ParentID of next are filled
	// from the predecessor, which is returned. On domain.ErrRefreshTokenReused
	// the predecessor is returned alongside the error.
	Rotate(ctx context.Context, oldRefreshHash string, next *domain.Session, now time.Time, mint MintFunc) (*domain.Session, error)
	// RevokeByRefreshHash deactivates the session holding the token; nil if none was active.
	RevokeByRefreshHash(ctx context.Context, refreshHash, reason string) (*domain.Session, error)
	// RevokeForUser deactivates id only if it belongs to userID.
	RevokeForUser(ctx context.Context, userID, id, reason string) (bool, error)
	RevokeAllByUser(ctx context.Context, userID, reason string) (int64, error)
	// RevokeLineage deactivates id and every active session descending from it.
	RevokeLineage(ctx context.Context, id, reason string) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// DeleteExpired removes sessions that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
