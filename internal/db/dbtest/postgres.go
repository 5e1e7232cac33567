package dbtest

import (
	"os"
	"testing"

	"saas-auth-core/internal/db"
	"saas-auth-core/internal/db/migrate"
)

// NewPostgres migrates and opens the database at DATABASE_URL, closed on cleanup.
// The test is skipped when DATABASE_URL is unset. The database is shared, so
// callers use unique IDs and remove their own rows.
func NewPostgres(t testing.TB) *db.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	pg, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

// DropUsers deletes the given users on cleanup; their sessions and lockout state go with them.
func DropUsers(t testing.TB, d *db.DB, ids ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, id := range ids {
			if _, err := d.Exec(d.Dialect.Rebind("DELETE FROM users WHERE id = ?"), id); err != nil {
				t.Errorf("drop user %s: %v", id, err)
			}
		}
	})
}
