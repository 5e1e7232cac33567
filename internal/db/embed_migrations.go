package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations/<dialect>.
// Used by the migrate runner (cmd/migrate) and by tests that need a real schema.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS

// MigrationDir returns the embedded directory holding migrations for d.
func (d Dialect) MigrationDir() string {
	return "migrations/" + string(d)
}
