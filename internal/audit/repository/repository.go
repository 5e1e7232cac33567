package repository

import (
	"context"

	"saas-auth-core/internal/audit/domain"
)

// Repository defines persistence for audit events. There is no update or
// delete: the log is append-only.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	// ListByUser returns the newest events for userID first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Event, error)
}
