// Package app wires configuration into a runnable ingestion pipeline.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-ingest/internal/adapter/backup"
	"github.com/couchcryptid/weather-ingest/internal/adapter/connectivity"
	"github.com/couchcryptid/weather-ingest/internal/adapter/historical"
	kafkaadapter "github.com/couchcryptid/weather-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/weather-ingest/internal/adapter/openweather"
	"github.com/couchcryptid/weather-ingest/internal/adapter/store"
	"github.com/couchcryptid/weather-ingest/internal/config"
	"github.com/couchcryptid/weather-ingest/internal/domain"
	"github.com/couchcryptid/weather-ingest/internal/observability"
	"github.com/couchcryptid/weather-ingest/internal/pipeline"
	"github.com/couchcryptid/weather-ingest/internal/retry"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitTempFailure = 75 // EX_TEMPFAIL: no connectivity, try again later
)

const pushTimeout = 10 * time.Second

// ExitCode maps a run error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, pipeline.ErrNoConnectivity):
		return ExitTempFailure
	default:
		return ExitFailure
	}
}

// StoreOptions derives store connection options from cfg.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		Driver:      cfg.StoreDriver,
		Host:        cfg.StoreHost,
		Port:        cfg.StorePort,
		User:        cfg.StoreUser,
		Password:    cfg.StorePassword,
		Database:    cfg.StoreDatabase,
		Table:       cfg.StoreTable,
		DSN:         cfg.StoreDSN,
		CreateTable: cfg.StoreCreateTable,
	}
}

// NewSource returns the record source of cfg's variant.
func NewSource(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) pipeline.Source {
	if cfg.Variant == config.VariantHistorical {
		return historical.NewSource(cfg.HistoricalFile, cfg.HistoricalYear, logger)
	}

	policy := retry.Default()
	policy.MaxAttempts = cfg.FetchMaxAttempts
	policy.Initial = cfg.FetchBackoffInitial
	policy.Max = cfg.FetchBackoffMax
	policy.OnRetry = func(int, time.Duration, error) { metrics.FetchRetries.Inc() }

	return openweather.NewClient(openweather.Options{
		APIKey:    cfg.OpenWeatherAPIKey,
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		BaseURL:   cfg.OpenWeatherBaseURL,
		Timeout:   cfg.FetchTimeout,
		Retry:     policy,
	}, logger)
}

// Run builds every collaborator from cfg and executes one pipeline pass.
// Metrics are pushed to the Pushgateway afterwards when one is configured.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Report, error) {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	deps := pipeline.Deps{
		BackupTarget: cfg.StoreDatabase,
		Source:       NewSource(cfg, metrics, logger),
		OpenStore:    openStore(cfg, logger),
		Validator:    domain.NewValidator(),
		Metrics:      metrics,
		Clock:        clock,
	}

	if cfg.Variant == config.VariantForecast {
		deps.Prober = connectivity.NewProber(cfg.ProbeURL, cfg.ProbeTimeout, logger)
	}

	if cfg.BackupEnabled {
		agent, err := newBackupAgent(ctx, cfg, clock, logger)
		if err != nil {
			logger.Error("backup upload disabled", "error", err)
		}
		deps.Backup = agent
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, string(cfg.Variant), logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka publisher close", "error", err)
			}
		}()
		deps.Publisher = pub
	}

	report, err := pipeline.New(deps, logger).Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if perr := metrics.Push(pushCtx, cfg.PushgatewayURL, "weather_ingest_"+string(cfg.Variant)); perr != nil {
			logger.Warn("metrics push failed", "error", perr)
		}
	}

	return report, err
}

func openStore(cfg *config.Config, logger *slog.Logger) pipeline.StoreOpener {
	opts := StoreOptions(cfg)
	return func(ctx context.Context) (pipeline.Store, error) {
		s, err := store.Open(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// newBackupAgent always returns an agent; the error reports only a failed
// offsite uploader, which leaves local backups working.
func newBackupAgent(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (*backup.Agent, error) {
	opts := backup.Options{
		Driver:   cfg.StoreDriver,
		Command:  cfg.BackupCommand,
		Host:     cfg.StoreHost,
		Port:     cfg.StorePort,
		User:     cfg.StoreUser,
		Password: cfg.StorePassword,
		Dir:      cfg.BackupDir,
	}

	var err error
	if cfg.BackupS3Bucket != "" {
		var up *backup.S3Uploader
		up, err = backup.NewS3Uploader(ctx, backup.S3Config{
			Bucket:   cfg.BackupS3Bucket,
			Prefix:   cfg.BackupS3Prefix,
			Region:   cfg.BackupS3Region,
			Endpoint: cfg.BackupS3Endpoint,
		})
		if err == nil {
			opts.Uploader = up
		}
	}

	return backup.NewAgent(opts, clock, logger), err
}
