// Package metrics holds the Prometheus collectors of the exporter.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "utxo_exporter"

// Pass outcomes.
const (
	OutcomeCommitted         = "committed"
	OutcomeCancelled         = "cancelled"
	OutcomeSourceUnavailable = "source_unavailable"
	OutcomeFailed            = "failed"
)

// Commit outcomes.
const (
	CommitSucceeded = "succeeded"
	CommitFailed    = "failed"
)

type Metrics struct {
	passes           *prometheus.CounterVec
	passDuration     prometheus.Histogram
	recordsProcessed prometheus.Counter
	dustRecords      prometheus.Counter
	lastRunTimestamp prometheus.Gauge
	commitAttempts   *prometheus.CounterVec
	tierCount        *prometheus.GaugeVec
	tierAmount       *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "passes_total",
			Help:      "Aggregation passes by outcome",
		}, []string{"outcome"}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a pass from scan start to commit end",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		recordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_processed_total",
			Help:      "Raw records read from the source",
		}),
		dustRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dust_records_total",
			Help:      "Raw records dropped as dust",
		}),
		lastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Run timestamp of the last committed pass",
		}),
		commitAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commit_attempts_total",
			Help:      "Commit attempts by target and outcome",
		}, []string{"target", "outcome"}),
		tierCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tier_entries",
			Help:      "Identities per tier in the last committed pass",
		}, []string{"tier"}),
		tierAmount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tier_amount",
			Help:      "Whole-unit total per tier in the last committed pass",
		}, []string{"tier"}),
	}
}

func (m *Metrics) RecordPass(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordScan(processed, dust uint64) {
	if m == nil {
		return
	}
	m.recordsProcessed.Add(float64(processed))
	m.dustRecords.Add(float64(dust))
}

func (m *Metrics) RecordCommitAttempt(target, outcome string) {
	if m == nil {
		return
	}
	m.commitAttempts.WithLabelValues(target, outcome).Inc()
}

// SetLastRun records the committed run timestamp (unix millis).
func (m *Metrics) SetLastRun(timestampMs int64) {
	if m == nil {
		return
	}
	m.lastRunTimestamp.Set(float64(timestampMs) / 1000)
}

func (m *Metrics) SetTier(tier string, count, amount int64) {
	if m == nil {
		return
	}
	m.tierCount.WithLabelValues(tier).Set(float64(count))
	m.tierAmount.WithLabelValues(tier).Set(float64(amount))
}
