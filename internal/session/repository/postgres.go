package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"saas-auth-core/internal/db"
	"saas-auth-core/internal/session/domain"
	userdomain "saas-auth-core/internal/user/domain"
)

const sessionColumns = `id, user_id, parent_id, refresh_token_hash, device_id, ip_address, user_agent,
	created_at, last_used_at, expires_at, is_active, revoked_reason`

// SQLRepository implements Repository on Postgres or SQLite.
type SQLRepository struct {
	db *db.DB
}

// NewSQLRepository returns a session repository that uses the given db for persistence.
func NewSQLRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

func (r *SQLRepository) q(query string) string { return r.db.Dialect.Rebind(query) }

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Create inserts an active session. ID, RefreshTokenHash and timestamps must be set.
func (r *SQLRepository) Create(ctx context.Context, s *domain.Session) error {
	s.IsActive = true
	return r.insert(ctx, r.db, s)
}

// Rotate runs the whole exchange in one transaction. The conditional UPDATE
// is what makes two concurrent rotations of one token single-winner: the
// loser matches zero rows and gets ErrRefreshTokenReused. mint runs last,
// before commit; its error is returned unchanged and undoes the rotation.
func (r *SQLRepository) Rotate(ctx context.Context, oldRefreshHash string, next *domain.Session, now time.Time, mint MintFunc) (*domain.Session, error) {
	var old *domain.Session
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, r.q(`SELECT `+prefixed("s.", sessionColumns)+`, u.status, u.email, u.role, u.workspace_id
			FROM sessions s JOIN users u ON u.id = s.user_id
			WHERE s.refresh_token_hash = ?`), oldRefreshHash)
		var userStatus string
		owner := &userdomain.User{}
		s, err := scanSession(row, &userStatus, &owner.Email, &owner.Role, &owner.WorkspaceID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrInvalidRefreshToken
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		old = s
		if !s.IsActive {
			if s.RevokedReason == domain.ReasonRotated {
				return domain.ErrRefreshTokenReused
			}
			return domain.ErrInvalidRefreshToken
		}
		if s.Expired(now) || userdomain.UserStatus(userStatus) != userdomain.UserStatusActive {
			return domain.ErrInvalidRefreshToken
		}

		res, err := tx.ExecContext(ctx, r.q(`UPDATE sessions SET is_active = FALSE, revoked_reason = ?, last_used_at = ?
			WHERE id = ? AND is_active = TRUE`), domain.ReasonRotated, now.UTC(), s.ID)
		if err != nil {
			return fmt.Errorf("deactivate session: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return domain.ErrRefreshTokenReused
		}

		next.UserID = s.UserID
		next.DeviceID = s.DeviceID
		next.ParentID = s.ID
		next.CreatedAt = now.UTC()
		next.LastUsedAt = now.UTC()
		next.IsActive = true
		if err := r.insert(ctx, tx, next); err != nil {
			return err
		}
		if mint == nil {
			return nil
		}
		owner.ID = s.UserID
		owner.Status = userdomain.UserStatus(userStatus)
		return mint(owner)
	})
	switch {
	case err == nil:
		old.IsActive = false
		old.RevokedReason = domain.ReasonRotated
		return old, nil
	case errors.Is(err, domain.ErrRefreshTokenReused):
		return old, err
	default:
		return nil, err
	}
}

func (r *SQLRepository) RevokeByRefreshHash(ctx context.Context, refreshHash, reason string) (*domain.Session, error) {
	var revoked *domain.Session
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, r.q(`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = ?`), refreshHash)
		s, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, r.q(`UPDATE sessions SET is_active = FALSE, revoked_reason = ? WHERE id = ? AND is_active = TRUE`), reason, s.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			s.IsActive = false
			s.RevokedReason = reason
			revoked = s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return revoked, nil
}

func (r *SQLRepository) RevokeForUser(ctx context.Context, userID, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE sessions SET is_active = FALSE, revoked_reason = ?
		WHERE id = ? AND user_id = ? AND is_active = TRUE`), reason, id, userID)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLRepository) RevokeAllByUser(ctx context.Context, userID, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE sessions SET is_active = FALSE, revoked_reason = ?
		WHERE user_id = ? AND is_active = TRUE`), reason, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLRepository) RevokeLineage(ctx context.Context, id, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`WITH RECURSIVE lineage(id) AS (
			SELECT id FROM sessions WHERE id = ?
			UNION ALL
			SELECT s.id FROM sessions s JOIN lineage l ON s.parent_id = l.id
		)
		UPDATE sessions SET is_active = FALSE, revoked_reason = ?
		WHERE id IN (SELECT id FROM lineage) AND is_active = TRUE`), id, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke lineage: %w", err)
	}
	return res.RowsAffected()
}

// ListActiveByUser returns unexpired active sessions, most recently used first.
func (r *SQLRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND is_active = TRUE AND expires_at > ?
		ORDER BY last_used_at DESC, created_at DESC`), userID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM sessions WHERE expires_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLRepository) insert(ctx context.Context, q db.Queryer, s *domain.Session) error {
	var parent any
	if s.ParentID != "" {
		parent = s.ParentID
	}
	_, err := q.ExecContext(ctx, r.q(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, NULL)`),
		s.ID, s.UserID, parent, s.RefreshTokenHash, s.DeviceID, s.IPAddress, s.UserAgent,
		s.CreatedAt.UTC(), s.LastUsedAt.UTC(), s.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSession reads sessionColumns followed by any extra destinations.
func scanSession(row scanner, extra ...any) (*domain.Session, error) {
	var (
		s       domain.Session
		parent  sql.NullString
		revoked sql.NullString
	)
	dest := append([]any{&s.ID, &s.UserID, &parent, &s.RefreshTokenHash, &s.DeviceID, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.IsActive, &revoked}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.ParentID = parent.String
	s.RevokedReason = revoked.String
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastUsedAt = s.LastUsedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	return &s, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
