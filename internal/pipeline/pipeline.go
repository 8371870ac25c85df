// Package pipeline runs one ingestion pass: probe, backup, fetch, normalize,
// validate, deduplicate and insert, all inside a single store transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-ingest/internal/domain"
	"github.com/couchcryptid/weather-ingest/internal/observability"
)

// ErrNoConnectivity aborts a run before any backup, connection or fetch.
var ErrNoConnectivity = errors.New("no internet connectivity")

// Prober checks outbound reachability.
type Prober interface {
	Probe(ctx context.Context) bool
}

// BackupAgent snapshots the target database.
type BackupAgent interface {
	Backup(ctx context.Context, target string) (domain.BackupArtifact, error)
}

// Source yields the raw records of one run, in order.
type Source interface {
	Name() string
	Records(ctx context.Context) ([]domain.RawRecord, error)
}

// Store is a connection session holding at most one transaction.
// Close must be idempotent.
type Store interface {
	Begin(ctx context.Context) error
	Exists(ctx context.Context, ts time.Time) (bool, error)
	Insert(ctx context.Context, obs domain.Observation) error
	Commit() error
	Rollback() error
	Close() error
}

// StoreOpener connects to the store.
type StoreOpener func(ctx context.Context) (Store, error)

// Publisher receives the observations of a committed run.
type Publisher interface {
	Publish(ctx context.Context, observations []domain.Observation) error
}

// Deps are the collaborators of a Pipeline. Source and OpenStore are required;
// the rest are optional or defaulted by New.
type Deps struct {
	Prober       Prober
	Backup       BackupAgent
	BackupTarget string
	Source       Source
	OpenStore    StoreOpener
	Publisher    Publisher
	Validator    *domain.Validator
	Metrics      *observability.Metrics
	Clock        clockwork.Clock
}

// Report summarizes a run.
type Report struct {
	Source     string
	Fetched    int
	Inserted   int
	Duplicates int
	Rejected   int
	Failed     int
	BackupPath string
	Committed  bool
	Duration   time.Duration
}

// Pipeline orchestrates a single ingestion run.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps, logger *slog.Logger) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Validator == nil {
		deps.Validator = domain.NewValidator()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Run executes one pass. The store connection, once opened, is closed
// exactly once before Run returns. Record-level problems are logged and
// skipped; a lost connection rolls back the batch and fails the run.
func (p *Pipeline) Run(ctx context.Context) (report Report, err error) {
	start := p.deps.Clock.Now()
	report.Source = p.deps.Source.Name()

	defer func() {
		report.Duration = p.deps.Clock.Since(start)
		p.finish(report, err)
	}()

	if p.deps.Prober != nil && !p.deps.Prober.Probe(ctx) {
		return report, ErrNoConnectivity
	}

	report.BackupPath = p.backup(ctx)

	store, err := p.deps.OpenStore(ctx)
	if err != nil {
		return report, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			p.logger.Warn("store close failed", "error", cerr)
		}
	}()

	if err := store.Begin(ctx); err != nil {
		return report, fmt.Errorf("begin transaction: %w", err)
	}

	records, err := p.deps.Source.Records(ctx)
	if err != nil {
		p.rollback(store)
		return report, fmt.Errorf("read %s records: %w", report.Source, err)
	}
	report.Fetched = len(records)
	p.deps.Metrics.RecordsFetched.Add(float64(len(records)))

	inserted, err := p.process(ctx, store, records, &report)
	if err != nil {
		p.rollback(store)
		return report, err
	}

	if err := store.Commit(); err != nil {
		return report, fmt.Errorf("commit: %w", err)
	}
	report.Committed = true
	p.logger.Info("batch committed", "inserted", report.Inserted)

	p.publish(ctx, inserted)
	return report, nil
}

// process handles every record in source order and returns the inserted
// observations. It stops only on connection loss or cancellation.
func (p *Pipeline) process(ctx context.Context, store Store, records []domain.RawRecord, report *Report) ([]domain.Observation, error) {
	var inserted []domain.Observation

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := domain.Normalize(raw)
		if err != nil {
			p.logger.Warn("record skipped", "record", raw.Key(), "error", err)
			p.count(&report.Rejected, observability.OutcomeRejected)
			continue
		}

		if err := p.deps.Validator.Validate(obs); err != nil {
			p.logger.Warn("invalid observation, skipped",
				"data", obs.Key(),
				"temperatura", obs.TemperatureString(),
				"precipitacao", obs.PrecipitationString(),
				"umidade", obs.HumidityString(),
				"error", err,
			)
			p.count(&report.Rejected, observability.OutcomeRejected)
			continue
		}

		exists, err := store.Exists(ctx, obs.Timestamp)
		if err != nil {
			if aborts(err) {
				return nil, fmt.Errorf("duplicate check %s: %w", obs.Key(), err)
			}
			p.logger.Error("duplicate check failed, skipping record", "data", obs.Key(), "error", err)
			p.count(&report.Failed, observability.OutcomeFailed)
			continue
		}
		if exists {
			p.logger.Info("duplicate record, skipped", "data", obs.Key())
			p.count(&report.Duplicates, observability.OutcomeDuplicate)
			continue
		}

		if err := store.Insert(ctx, obs); err != nil {
			if aborts(err) {
				return nil, fmt.Errorf("insert %s: %w", obs.Key(), err)
			}
			p.logger.Error("insert failed, skipping record", "data", obs.Key(), "error", err)
			p.count(&report.Failed, observability.OutcomeFailed)
			continue
		}

		p.logger.Info("observation inserted",
			"data", obs.Key(),
			"temperatura", obs.TemperatureString(),
			"precipitacao", obs.PrecipitationString(),
			"umidade", obs.HumidityString(),
		)
		p.count(&report.Inserted, observability.OutcomeInserted)
		inserted = append(inserted, obs)
	}

	return inserted, nil
}

func (p *Pipeline) backup(ctx context.Context) string {
	if p.deps.Backup == nil {
		return ""
	}
	artifact, err := p.deps.Backup.Backup(ctx, p.deps.BackupTarget)
	if err != nil {
		p.logger.Error("backup failed, continuing without it", "target", p.deps.BackupTarget, "error", err)
		p.deps.Metrics.BackupSucceeded.Set(0)
		return ""
	}
	p.deps.Metrics.BackupSucceeded.Set(1)
	return artifact.Path
}

func (p *Pipeline) publish(ctx context.Context, observations []domain.Observation) {
	if p.deps.Publisher == nil || len(observations) == 0 {
		return
	}
	if err := p.deps.Publisher.Publish(ctx, observations); err != nil {
		p.logger.Error("publish after commit failed", "count", len(observations), "error", err)
	}
}

func (p *Pipeline) rollback(store Store) {
	if err := store.Rollback(); err != nil {
		p.logger.Error("rollback failed", "error", err)
		return
	}
	p.logger.Warn("transaction rolled back")
}

func (p *Pipeline) count(field *int, outcome string) {
	*field++
	p.deps.Metrics.RecordsProcessed.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) finish(report Report, err error) {
	m := p.deps.Metrics
	m.RunDuration.Set(report.Duration.Seconds())
	if report.Committed {
		m.RunSucceeded.Set(1)
		m.LastSuccessTime.Set(float64(p.deps.Clock.Now().Unix()))
	} else {
		m.RunSucceeded.Set(0)
	}

	attrs := []any{
		"source", report.Source,
		"fetched", report.Fetched,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"rejected", report.Rejected,
		"failed", report.Failed,
		"committed", report.Committed,
		"duration", report.Duration,
	}
	switch {
	case err == nil:
		p.logger.Info("run complete", attrs...)
	case errors.Is(err, ErrNoConnectivity):
		p.logger.Info("run skipped: no internet connectivity", attrs...)
	default:
		p.logger.Error("run failed", append(attrs, "error", err)...)
	}
}

// aborts reports whether a store error ends the run instead of the record.
func aborts(err error) bool {
	return errors.Is(err, domain.ErrConnectionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
