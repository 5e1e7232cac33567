// Package dbtest provides a migrated SQLite database for package tests.
// For tests only.
package dbtest

import (
	"path/filepath"
	"testing"

	"saas-auth-core/internal/db"
	"saas-auth-core/internal/db/migrate"
)

// NewSQLite returns a freshly migrated SQLite database in t's temp dir, closed on cleanup.
func NewSQLite(t testing.TB) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	if err := migrate.RunSQLite(path, "up"); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, err := db.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}
