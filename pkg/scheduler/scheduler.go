// Package scheduler drives passes: it decides when the next pass is due, runs
// it, hands the result to the committer and owns the run watermark.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/commit"
	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/metrics"
	"github.com/canopy-network/utxo-exporter/pkg/retry"
)

// DefaultPoll bounds how long an idle scheduler takes to notice shutdown.
const DefaultPoll = 3 * time.Second

type State int32

const (
	Idle State = iota
	Scanning
	Committing
	Cooldown
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Committing:
		return "committing"
	case Cooldown:
		return "cooldown"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Aggregator produces the RunResult of one pass.
type Aggregator interface {
	Aggregate(ctx context.Context, timestamp int64) (distribution.RunResult, error)
}

// Committer persists a RunResult to the configured targets.
type Committer interface {
	Commit(ctx context.Context, result *distribution.RunResult) (commit.Report, error)
}

// Notifier is told about every committed run.
type Notifier interface {
	RunCommitted(ctx context.Context, result *distribution.RunResult, committed []string)
}

type Config struct {
	// Interval is the minimum time between pass starts. Zero means always due.
	Interval time.Duration
	// Schedule, when set, replaces Interval: a pass is due once Schedule.Next
	// of the last run has passed.
	Schedule cron.Schedule
	// SourceRetry is the cooldown after a pass failed to read the source.
	SourceRetry time.Duration
	// Poll is the idle re-check period. Defaults to DefaultPoll.
	Poll time.Duration
	// Once stops Run after the first committed pass.
	Once bool
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State     `json:"state"`
	Watermark    int64     `json:"watermark"`
	NextEligible time.Time `json:"next_eligible"`
	Passes       uint64    `json:"passes"`
	LastError    string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	cfg        Config
	schedule   cron.Schedule
	aggregator Aggregator
	committer  Committer
	notifier   Notifier
	logger     *zap.Logger
	metrics    *metrics.Metrics

	state     atomic.Int32
	watermark atomic.Int64
	passes    atomic.Uint64

	mu        sync.Mutex
	lastError string
}

// New builds a scheduler starting from watermark (unix millis, 0 for none).
func New(cfg Config, aggregator Aggregator, committer Committer, notifier Notifier, watermark int64, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	schedule := cfg.Schedule
	if schedule == nil && cfg.Interval > 0 {
		schedule = cron.Every(cfg.Interval)
	}

	s := &Scheduler{
		cfg:        cfg,
		schedule:   schedule,
		aggregator: aggregator,
		committer:  committer,
		notifier:   notifier,
		logger:     logger,
		metrics:    m,
	}
	s.watermark.Store(watermark)
	return s
}

// NextEligible returns when the next pass becomes due. The zero time means now.
func (s *Scheduler) NextEligible() time.Time {
	wm := s.watermark.Load()
	if wm <= 0 || s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(time.UnixMilli(wm))
}

// Eligible reports whether a pass may start at now.
func (s *Scheduler) Eligible(now time.Time) bool {
	return !now.Before(s.NextEligible())
}

func (s *Scheduler) Watermark() int64 { return s.watermark.Load() }

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	lastError := s.lastError
	s.mu.Unlock()
	return Status{
		State:        s.State(),
		Watermark:    s.watermark.Load(),
		NextEligible: s.NextEligible(),
		Passes:       s.passes.Load(),
		LastError:    lastError,
	}
}

func (s *Scheduler) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug("Scheduler state", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastError = ""
		return
	}
	s.lastError = err.Error()
}

// Run loops until ctx is done, or until the first committed pass in Once mode.
// Shutdown is not an error: Run returns nil once cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.schedule == nil {
		s.logger.Info("Run interval is zero, scanning continuously")
	} else {
		s.logger.Info("Scheduler started", zap.Time("next_eligible", s.NextEligible()))
	}

	for {
		if ctx.Err() != nil {
			s.setState(Cancelled)
			return nil
		}
		s.setState(Idle)

		start := s.cfg.Now().Truncate(time.Second)
		if !s.Eligible(start) {
			if retry.Wait(ctx, s.cfg.Poll) == retry.Cancelled {
				s.setState(Cancelled)
				return nil
			}
			continue
		}

		_, err := s.RunPass(ctx, start)
		switch {
		case errors.Is(err, distribution.ErrCancelled):
			s.logger.Info("Pass cancelled, stopping scheduler")
			s.setState(Cancelled)
			return nil
		case err != nil:
			s.setState(Cooldown)
			s.logger.Error("Failed to read tiers and top entries, retrying later",
				zap.Duration("retry_in", s.cfg.SourceRetry),
				zap.Error(err))
			if retry.Wait(ctx, s.cfg.SourceRetry) == retry.Cancelled {
				s.setState(Cancelled)
				return nil
			}
		case s.cfg.Once:
			s.setState(Idle)
			return nil
		}
	}
}

// RunPass scans, commits and advances the watermark to start. A pass that
// fails or is cancelled leaves the watermark untouched and commits nothing.
func (s *Scheduler) RunPass(ctx context.Context, start time.Time) (commit.Report, error) {
	ts := start.UnixMilli()
	passStart := time.Now()
	logger := s.logger.With(zap.Int64("timestamp", ts))

	s.setState(Scanning)
	if wm := s.watermark.Load(); wm > 0 {
		logger.Info("Reading tiers and top entries", zap.Duration("since_last_run", start.Sub(time.UnixMilli(wm))))
	} else {
		logger.Info("Reading tiers and top entries")
	}

	result, err := s.aggregator.Aggregate(ctx, ts)
	if err != nil {
		if !errors.Is(err, distribution.ErrCancelled) && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", distribution.ErrCancelled, err)
		}
		s.finishPass(err, passStart)
		return commit.Report{}, err
	}
	s.metrics.RecordScan(result.Stats.Processed, result.Stats.DustCount)

	s.setState(Committing)
	report, err := s.committer.Commit(ctx, &result)
	if err != nil {
		s.finishPass(err, passStart)
		return report, err
	}

	s.watermark.Store(ts)
	s.passes.Add(1)
	s.metrics.SetLastRun(ts)
	for _, tier := range result.Tiers {
		s.metrics.SetTier(strconv.Itoa(int(tier.Tier)), tier.Count, tier.Amount)
	}
	s.finishPass(nil, passStart)

	committed := report.Committed()
	if len(committed) < len(report.Outcomes) {
		logger.Warn("Run committed to a subset of targets",
			zap.Strings("committed", committed),
			zap.Int("targets", len(report.Outcomes)))
	}
	if s.notifier != nil {
		s.notifier.RunCommitted(ctx, &result, committed)
	}

	logger.Info("Finished reading tiers and top entries",
		zap.Duration("took", time.Since(passStart)),
		zap.Time("next_eligible", s.NextEligible()))
	return report, nil
}

func (s *Scheduler) finishPass(err error, passStart time.Time) {
	s.setLastError(err)
	outcome := metrics.OutcomeCommitted
	switch {
	case err == nil:
	case errors.Is(err, distribution.ErrCancelled):
		outcome = metrics.OutcomeCancelled
	case errors.Is(err, distribution.ErrSourceUnavailable):
		outcome = metrics.OutcomeSourceUnavailable
	default:
		outcome = metrics.OutcomeFailed
	}
	s.metrics.RecordPass(outcome, time.Since(passStart))
}
