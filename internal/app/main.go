package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-ingest/internal/config"
	"github.com/couchcryptid/weather-ingest/internal/observability"
	"github.com/couchcryptid/weather-ingest/internal/pipeline"
)

// Main is the body of the ingestion commands: load configuration for variant,
// run once, and return the process exit code.
func Main(variant config.Variant) int {
	cfg, err := config.Load(variant)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return ExitFailure
	}

	logger, closer, err := observability.NewLogger(observability.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		slog.Error("failed to open log", "error", err)
		return ExitFailure
	}
	defer closer.Close()

	logger = logger.With("run_id", uuid.NewString(), "variant", string(variant))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = Run(ctx, cfg, logger)
	if errors.Is(err, pipeline.ErrNoConnectivity) {
		fmt.Fprintln(os.Stderr, "no internet connectivity; nothing was collected")
	}
	return ExitCode(err)
}
