package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Record outcomes used as the "outcome" label of RecordsProcessed.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus counters and gauges for one ingestion run.
// A run is a short-lived batch job, so metrics live in their own registry and
// are pushed to a Pushgateway at exit rather than scraped.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsFetched   prometheus.Counter
	RecordsProcessed *prometheus.CounterVec // labels: outcome={inserted,duplicate,rejected,failed}
	FetchRetries     prometheus.Counter
	BackupSucceeded  prometheus.Gauge
	RunSucceeded     prometheus.Gauge
	RunDuration      prometheus.Gauge
	LastSuccessTime  prometheus.Gauge
}

// NewMetrics creates all run metrics and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "records_fetched_total",
			Help:      "Raw records returned by the source.",
		}),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "records_processed_total",
			Help:      "Records by outcome after normalization, validation and persistence.",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts that failed and were retried.",
		}),
		BackupSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_ingest",
			Name:      "backup_succeeded",
			Help:      "1 when the pre-write backup was taken, 0 otherwise.",
		}),
		RunSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_ingest",
			Name:      "run_succeeded",
			Help:      "1 when the run committed its batch, 0 otherwise.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the run.",
		}),
		LastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_ingest",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed run.",
		}),
	}

	m.Registry.MustRegister(
		m.RecordsFetched,
		m.RecordsProcessed,
		m.FetchRetries,
		m.BackupSucceeded,
		m.RunSucceeded,
		m.RunDuration,
		m.LastSuccessTime,
	)

	return m
}

// Push sends the registry to a Prometheus Pushgateway under the given job name.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
