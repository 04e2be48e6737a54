// Package commit persists a completed run to every configured target.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/db"
	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/metrics"
	"github.com/canopy-network/utxo-exporter/pkg/retry"
)

// TargetError is one failed write attempt against a target.
type TargetError struct {
	Target  string
	Attempt int
	Err     error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("commit to %s (attempt %d): %v", e.Target, e.Attempt, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// Outcome is the result of committing one run to one target.
type Outcome struct {
	Target       string    `json:"target"`
	Timestamp    int64     `json:"timestamp"`
	Committed    bool      `json:"committed"`
	Attempts     int       `json:"attempts"`
	TiersWritten int64     `json:"tiers_written"`
	TopWritten   int64     `json:"top_written"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
	// LastCommitted is the newest run timestamp this target is known to hold.
	LastCommitted int64 `json:"last_committed,omitempty"`
}

// Report lists the outcome of every target attempted, in target order.
type Report struct {
	Timestamp int64
	Outcomes  []Outcome
}

// Committed returns the names of the targets that hold the run.
func (r Report) Committed() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Committed {
			names = append(names, o.Target)
		}
	}
	return names
}

// Orchestrator writes a RunResult to its targets one after another. A target
// that keeps failing is given up on after the retry budget and the next target
// is tried; nothing already written elsewhere is rolled back.
type Orchestrator struct {
	targets []db.Target
	retry   retry.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	status  *xsync.Map[string, Outcome]
}

func New(targets []db.Target, retryCfg retry.Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		targets: targets,
		retry:   retryCfg,
		logger:  logger,
		metrics: m,
		status:  xsync.NewMap[string, Outcome](),
	}
}

// Commit persists result to every target. The only error returned is
// distribution.ErrCancelled; per-target failures are logged and reported in
// the Report. On cancellation the Report covers the targets attempted so far.
func (o *Orchestrator) Commit(ctx context.Context, result *distribution.RunResult) (Report, error) {
	report := Report{Timestamp: result.Timestamp}
	tiers := result.TierRows()

	for _, target := range o.targets {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %w", distribution.ErrCancelled, err)
		}

		outcome, err := o.commitTarget(ctx, target, tiers, result)
		report.Outcomes = append(report.Outcomes, outcome)
		o.record(outcome)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (o *Orchestrator) commitTarget(ctx context.Context, target db.Target, tiers []models.DistributionTier, result *distribution.RunResult) (Outcome, error) {
	name := target.Name()
	logger := o.logger.With(zap.String("target", name))
	outcome := Outcome{Target: name, Timestamp: result.Timestamp}

	logger.Debug("Committing run",
		zap.Int("tiers", len(tiers)),
		zap.Int("top_entries", len(result.TopEntries)))

	err := retry.WithBackoff(ctx, o.retry, logger, "commit", func(attempt int) error {
		outcome.Attempts = attempt
		tiersWritten, err := target.WriteHistogram(ctx, tiers)
		if err != nil {
			o.metrics.RecordCommitAttempt(name, metrics.CommitFailed)
			return &TargetError{Target: name, Attempt: attempt, Err: fmt.Errorf("write histogram: %w", err)}
		}
		topWritten, err := target.WriteTopEntries(ctx, result.TopEntries)
		if err != nil {
			o.metrics.RecordCommitAttempt(name, metrics.CommitFailed)
			return &TargetError{Target: name, Attempt: attempt, Err: fmt.Errorf("write top entries: %w", err)}
		}
		o.metrics.RecordCommitAttempt(name, metrics.CommitSucceeded)
		outcome.TiersWritten += tiersWritten
		outcome.TopWritten += topWritten
		return nil
	})
	outcome.FinishedAt = time.Now()

	switch {
	case err == nil:
		outcome.Committed = true
		logger.Info("Committed run",
			zap.Int64("timestamp", result.Timestamp),
			zap.Int64("tiers_written", outcome.TiersWritten),
			zap.Int64("top_written", outcome.TopWritten),
			zap.Int("attempts", outcome.Attempts))
		return outcome, nil
	case errors.Is(err, retry.ErrCancelled) || ctx.Err() != nil:
		outcome.Error = "cancelled"
		logger.Warn("Commit cancelled", zap.Int("attempts", outcome.Attempts))
		return outcome, fmt.Errorf("%w: commit to %s: %w", distribution.ErrCancelled, name, context.Cause(ctx))
	default:
		outcome.Error = err.Error()
		logger.Error("Giving up on target after retries",
			zap.Int64("timestamp", result.Timestamp),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(err))
		return outcome, nil
	}
}

func (o *Orchestrator) record(outcome Outcome) {
	o.status.Compute(outcome.Target, func(old Outcome, loaded bool) (Outcome, xsync.ComputeOp) {
		if outcome.Committed {
			outcome.LastCommitted = outcome.Timestamp
		} else if loaded {
			outcome.LastCommitted = old.LastCommitted
		}
		return outcome, xsync.UpdateOp
	})
}

// Status returns the latest outcome per target, in target order.
func (o *Orchestrator) Status() []Outcome {
	out := make([]Outcome, 0, len(o.targets))
	for _, target := range o.targets {
		if outcome, ok := o.status.Load(target.Name()); ok {
			out = append(out, outcome)
		}
	}
	return out
}
