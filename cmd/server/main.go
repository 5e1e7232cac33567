package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saas-auth-core/internal/app"
	"saas-auth-core/internal/config"
	"saas-auth-core/internal/logging"
	"saas-auth-core/internal/server"
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
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	// Load or create the signing key now so a broken key store shows up at startup.
	if _, err := a.Keys.ActiveKey(ctx); err != nil {
		logger.Error("signing key unavailable", "error", err)
		return
	}
	if a.Keys.Degraded() {
		logger.Warn("key store unavailable; signing with an ephemeral key", "key_store", cfg.KeyStore)
	}
	if cfg.WebhookToken == "" {
		logger.Warn("WEBHOOK_TOKEN unset; webhook calls will be rejected")
	}

	srv := server.NewHTTPServer(cfg.HTTPAddr, server.NewRouter(server.Deps{
		Auth:                a.Auth,
		HealthPinger:        a.DB,
		HealthPolicyChecker: a.Policy,
		KeyStatus:           a.Keys,
		CORSOrigins:         cfg.CORSOriginList(),
		WebhookToken:        cfg.WebhookToken,
		Logger:              logger,
	}))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("serve", "error", err)
		}
		return
	}

	logger.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped")
}
