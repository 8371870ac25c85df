// Command export-csv writes a stored observation table as CSV
// (data,temperatura,precipitacao,umidade), the input of the training step.
//
// Usage:
//
//	export-csv -variant historical -out dados_climaticos2.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/weather-ingest/internal/adapter/csvexport"
	"github.com/couchcryptid/weather-ingest/internal/adapter/store"
	"github.com/couchcryptid/weather-ingest/internal/app"
	"github.com/couchcryptid/weather-ingest/internal/config"
	"github.com/couchcryptid/weather-ingest/internal/domain"
	"github.com/couchcryptid/weather-ingest/internal/observability"
)

func main() {
	variant := flag.String("variant", string(config.VariantForecast), "table to export: forecast or historical")
	out := flag.String("out", "", "output file (default <table>.csv)")
	flag.Parse()

	os.Exit(run(config.Variant(*variant), *out))
}

func run(variant config.Variant, outPath string) int {
	cfg, err := config.LoadStore(variant)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return app.ExitUsage
	}

	logger, closer, err := observability.NewLogger(observability.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		return app.ExitFailure
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if outPath == "" {
		outPath = cfg.StoreTable + ".csv"
	}
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logger.Error("failed to create output", "path", outPath, "error", err)
		return app.ExitFailure
	}
	defer f.Close()

	s, err := store.Open(ctx, app.StoreOptions(cfg), logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return app.ExitFailure
	}
	defer s.Close()

	enc := csvexport.NewWriter(f)
	if err := s.Export(ctx, func(obs domain.Observation) error { return enc.Write(obs) }); err != nil {
		logger.Error("export failed", "error", err)
		return app.ExitFailure
	}
	if err := enc.Flush(); err != nil {
		logger.Error("export flush failed", "error", err)
		return app.ExitFailure
	}

	logger.Info("export complete", "table", s.Table(), "rows", enc.Rows())
	fmt.Fprintf(os.Stderr, "%d rows written to %s\n", enc.Rows(), outPath)
	return app.ExitOK
}
