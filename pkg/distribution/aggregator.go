package distribution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Source opens a fresh iterator over the raw-record set for each pass.
type Source interface {
	Open(ctx context.Context) (RecordIterator, error)
}

// Options configures one aggregation pass. Values are fixed for the lifetime of the process.
type Options struct {
	DustThreshold uint64
	UnitScale     uint64
	TopCount      int
	TopMinAmount  uint64
	ProgressEvery uint64
}

// Aggregator runs accumulation and building as a single pass over a Source.
type Aggregator struct {
	source  Source
	opts    Options
	logger  *zap.Logger
	logTopN int
}

func NewAggregator(source Source, opts Options, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UnitScale == 0 {
		opts.UnitScale = DefaultUnitScale
	}
	return &Aggregator{source: source, opts: opts, logger: logger, logTopN: 10}
}

// Aggregate scans the source and returns the RunResult stamped with timestamp.
// Nothing partial is ever returned: on error the result is the zero value.
func (a *Aggregator) Aggregate(ctx context.Context, timestamp int64) (RunResult, error) {
	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	it, err := a.source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return RunResult{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		var srcErr *SourceError
		if errors.As(err, &srcErr) {
			return RunResult{}, err
		}
		return RunResult{}, &SourceError{Op: "open", Err: err}
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil {
			a.logger.Warn("Failed to close record iterator", zap.Error(closeErr))
		}
	}()

	acc := Accumulator{
		DustThreshold: a.opts.DustThreshold,
		UnitScale:     a.opts.UnitScale,
		ProgressEvery: a.opts.ProgressEvery,
		Logger:        a.logger,
	}
	merged, stats, err := acc.Accumulate(ctx, it)
	if err != nil {
		return RunResult{}, err
	}

	builder := Builder{
		UnitScale:    a.opts.UnitScale,
		TopCount:     a.opts.TopCount,
		TopMinAmount: a.opts.TopMinAmount,
	}
	result, err := builder.Build(ctx, merged, timestamp)
	if err != nil {
		return RunResult{}, err
	}
	result.Stats = stats

	a.logResult(&result)
	return result, nil
}

func (a *Aggregator) logResult(result *RunResult) {
	for _, tier := range result.Tiers {
		a.logger.Info("Tier",
			zap.Int16("tier", tier.Tier),
			zap.Int64("count", tier.Count),
			zap.Int64("total", tier.Amount))
	}
	for i, entry := range result.TopEntries {
		if i >= a.logTopN {
			break
		}
		a.logger.Info("Top entry",
			zap.Int32("rank", entry.Rank+1),
			zap.String("identity", hex.EncodeToString(entry.Identity)),
			zap.Int64("total", entry.Amount))
	}
}
