// Command migrate applies the embedded schema migrations to the configured database.
//
//	go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"log"
	"os"

	"saas-auth-core/internal/config"
	"saas-auth-core/internal/db/migrate"
	"saas-auth-core/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger = logger.With("driver", cfg.DatabaseDriver, "direction", *direction)

	// The DSN may carry credentials, so only the SQLite path is logged.
	if cfg.DatabaseDriver == config.DriverSQLite {
		logger = logger.With("path", cfg.SQLitePath)
		err = migrate.RunSQLite(cfg.SQLitePath, *direction)
	} else {
		err = migrate.Run(cfg.DatabaseURL, *direction)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
