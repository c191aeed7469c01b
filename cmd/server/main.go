// Package main provides the entry point for the generation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/invidias-codem/ai-saas/internal/bootstrap"
	"github.com/invidias-codem/ai-saas/internal/config"
	"github.com/invidias-codem/ai-saas/internal/metrics"
	"github.com/invidias-codem/ai-saas/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting generation API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Bool("replicate_enabled", cfg.ReplicateEnabled()),
		slog.Bool("vertex_enabled", cfg.VertexEnabled()),
		slog.Bool("s3_signer_enabled", cfg.S3Enabled()),
		slog.Bool("gcs_signer_enabled", cfg.GCSSignerEnabled()),
		slog.Bool("cancel_upstream", cfg.CancelUpstream),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	go deps.Orchestrator.Prune(ctx, cfg.PruneInterval, cfg.RecordTTL)

	handlers := server.NewHandlers(deps.Orchestrator, deps.Repository, logger,
		server.WithProviders(deps.Generators),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics.Handler(deps.Registry),
		Observer:       deps.Metrics,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // event streams clear their own deadline
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		_ = deps.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	// Closing sessions first ends open event streams so Shutdown can drain.
	closeErr := deps.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if closeErr != nil {
		logger.Warn("release dependencies", slog.String("error", closeErr.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}
