package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"saas-auth-core/internal/db"
	"saas-auth-core/internal/user/domain"
)

const userColumns = `id, email, password_hash, role, workspace_id, status, email_verified,
	failed_login_count, locked_until, deletion_requested_at, created_at, updated_at`

// SQLRepository implements Repository on Postgres or SQLite.
type SQLRepository struct {
	db *db.DB
}

// NewSQLRepository returns a user repository that uses the given db for persistence.
func NewSQLRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *SQLRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *SQLRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.PasswordHash, u.Role, u.WorkspaceID, string(u.Status), u.EmailVerified,
		u.FailedLoginCount, nullTime(u.LockedUntil), nullTime(u.DeletionRequestedAt),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`), passwordHash, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateStatus sets the account status. Moving to pending_deletion also stamps
// deletion_requested_at.
func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status domain.UserStatus, now time.Time) error {
	var deletionAt any
	if status == domain.UserStatusPendingDeletion {
		deletionAt = now.UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(
		`UPDATE users SET status = ?, deletion_requested_at = COALESCE(?, deletion_requested_at), updated_at = ? WHERE id = ?`),
		string(status), deletionAt, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// IncrementFailedLogin is a single conditional UPDATE so concurrent failures
// never lose an increment. Both SET expressions read the pre-update counter,
// so the row is locked by exactly the statement that reaches threshold or any
// later one.
func (r *SQLRepository) IncrementFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(`UPDATE users
		SET failed_login_count = failed_login_count + 1,
			locked_until = CASE WHEN failed_login_count + 1 >= ? THEN ? ELSE locked_until END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_login_count`),
		threshold, lockUntil.UTC(), now.UTC(), id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, fmt.Errorf("increment failed login: user %s not found", id)
		}
		return 0, nil, fmt.Errorf("increment failed login: %w", err)
	}
	if count < threshold {
		return count, nil, nil
	}
	until := lockUntil.UTC()
	return count, &until, nil
}

func (r *SQLRepository) ResetFailedLogin(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Dialect.Rebind(
		`UPDATE users SET failed_login_count = 0, locked_until = NULL, updated_at = ?
		WHERE id = ? AND (failed_login_count <> 0 OR locked_until IS NOT NULL)`), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("reset failed login: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u          domain.User
		status     string
		locked     sql.NullTime
		deletionAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.WorkspaceID, &status, &u.EmailVerified,
		&u.FailedLoginCount, &locked, &deletionAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	u.LockedUntil = timePtr(locked)
	u.DeletionRequestedAt = timePtr(deletionAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
