package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"livesession/internal/app"
	"livesession/internal/config"
)

// Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(context.Background(), os.Stdout); err != nil {
		slog.Error("Live session service exited", "error", err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(ctx context.Context, logOutput io.Writer) error {
	// STEP 1: .env first so it can feed LIVESESSION_* variables
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	// STEP 2: Load configuration with precedence (file > env > defaults)
	cfg := config.LoadConfigWithPrecedence(os.Getenv(config.EnvPrefix + "CONFIG_FILE"))
	if err := installLogger(logOutput, cfg.Log.Level); err != nil {
		return err
	}

	// STEP 3: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 4: Run until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting live session service", "addr", application.GetAddr())
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}

// installLogger makes a JSON slog handler the process default
func installLogger(w io.Writer, level string) error {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}
