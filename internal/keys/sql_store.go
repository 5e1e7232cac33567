package keys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"saas-auth-core/internal/db"
	"saas-auth-core/internal/security"
)

// SQLStore persists keys in the signing_keys table so every instance behind
// the same database shares one key set.
type SQLStore struct {
	db *db.DB
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) Load(ctx context.Context) ([]SigningKey, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(
		`SELECT kid, private_key_pem, status, created_at, retired_at FROM signing_keys ORDER BY created_at DESC`))
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	defer rows.Close()
	var out []SigningKey
	for rows.Next() {
		var (
			k         SigningKey
			pemText   string
			status    string
			retiredAt sql.NullTime
		)
		if err := rows.Scan(&k.KID, &pemText, &status, &k.CreatedAt, &retiredAt); err != nil {
			return nil, fmt.Errorf("scan signing key: %w", err)
		}
		priv, err := security.ParsePrivateKeyPEM([]byte(pemText))
		if err != nil {
			return nil, fmt.Errorf("parse signing key %s: %w", k.KID, err)
		}
		k.Private = priv
		k.Status = Status(status)
		k.CreatedAt = k.CreatedAt.UTC()
		if retiredAt.Valid {
			t := retiredAt.Time.UTC()
			k.RetiredAt = &t
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLStore) Create(ctx context.Context, key SigningKey) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.db.Dialect.Rebind(
			`SELECT COUNT(*) FROM signing_keys WHERE status = ?`), string(StatusActive)).Scan(&n); err != nil {
			return fmt.Errorf("count active keys: %w", err)
		}
		if n > 0 {
			return ErrConflict
		}
		return s.insert(ctx, tx, key)
	})
}

func (s *SQLStore) Rotate(ctx context.Context, next SigningKey, retiredKID string, retiredAt time.Time) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.db.Dialect.Rebind(
			`UPDATE signing_keys SET status = ?, retired_at = ? WHERE kid = ? AND status = ?`),
			string(StatusRetired), retiredAt.UTC(), retiredKID, string(StatusActive))
		if err != nil {
			return fmt.Errorf("retire signing key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrConflict
		}
		return s.insert(ctx, tx, next)
	})
}

func (s *SQLStore) Delete(ctx context.Context, kid string) error {
	_, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(
		`DELETE FROM signing_keys WHERE kid = ? AND status = ?`), kid, string(StatusRetired))
	if err != nil {
		return fmt.Errorf("delete signing key: %w", err)
	}
	return nil
}

func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, key SigningKey) error {
	privPEM, err := security.EncodePrivateKeyPEM(key.Private)
	if err != nil {
		return err
	}
	pubPEM, err := security.EncodePublicKeyPEM(key.Public())
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.db.Dialect.Rebind(
		`INSERT INTO signing_keys (kid, private_key_pem, public_key_pem, status, created_at, retired_at) VALUES (?, ?, ?, ?, ?, NULL)`),
		key.KID, string(privPEM), string(pubPEM), string(StatusActive), key.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert signing key: %w", err)
	}
	return nil
}
