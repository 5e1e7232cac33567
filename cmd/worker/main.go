// Worker runs periodic maintenance: deletes sessions whose refresh window closed and
// prunes retired signing keys whose grace window ended. Both jobs are idempotent, so
// several workers may run side by side. WORKER_INTERVAL sets the period.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saas-auth-core/internal/app"
	"saas-auth-core/internal/config"
	"saas-auth-core/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("worker: startup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close(context.Background()) }()

	sweeper := app.NewSweeper(a.Sessions, a.Keys, 24*time.Hour, logger)
	interval := cfg.SweepInterval()
	logger.Info("worker: started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sweeper.Run(ctx)
		select {
		case <-ctx.Done():
			logger.Info("worker: stopped")
			return
		case <-ticker.C:
		}
	}
}
