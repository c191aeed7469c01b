// Package main provides the entry point for the genctl command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/invidias-codem/ai-saas/internal/bootstrap"
	"github.com/invidias-codem/ai-saas/internal/cli"
	"github.com/invidias-codem/ai-saas/internal/config"
)

func main() {
	rootCmd := cli.BuildCLI(newStarter)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, cli.ErrCanceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func newStarter(ctx context.Context) (cli.Starter, func() error, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Progress goes to stdout, so logs stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize dependencies: %w", err)
	}
	return deps.Orchestrator, deps.Close, nil
}
