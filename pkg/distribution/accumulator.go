package distribution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Accumulator merges raw records by identity, dropping dust.
type Accumulator struct {
	DustThreshold uint64
	UnitScale     uint64
	ProgressEvery uint64
	Logger        *zap.Logger
}

// Accumulate drains it into a map of identity -> total atomic amount.
//
// Records below DustThreshold only touch the diagnostic counters. The context is
// polled before every record; a done context aborts with ErrCancelled and no map.
// Iteration errors are returned as *SourceError. Amount sums are not overflow
// checked: inputs are bounded by the total supply of the chain.
func (a *Accumulator) Accumulate(ctx context.Context, it RecordIterator) (map[string]uint64, ScanStats, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scale := a.UnitScale
	if scale == 0 {
		scale = DefaultUnitScale
	}
	progressEvery := a.ProgressEvery
	if progressEvery == 0 {
		progressEvery = DefaultProgressEvery
	}

	var stats ScanStats
	merged := make(map[string]uint64)
	done := ctx.Done()
	start := time.Now()

	for {
		select {
		case <-done:
			stats.Duration = time.Since(start)
			return nil, stats, fmt.Errorf("%w after %d records: %w", ErrCancelled, stats.Processed, ctx.Err())
		default:
		}

		if !it.Next() {
			break
		}

		rec := it.Record()
		stats.Processed++
		stats.TotalAmount += rec.Amount
		if rec.Amount < a.DustThreshold {
			stats.DustCount++
			stats.DustAmount += rec.Amount
		} else {
			// string(rec.Identity) in the index expression does not allocate on lookup hits.
			merged[string(rec.Identity)] += rec.Amount
		}

		if stats.Processed%progressEvery == 0 {
			logger.Info("Processed UTXOs",
				zap.Uint64("count", stats.Processed),
				zap.Uint64("total_amount", stats.TotalAmount/scale),
				zap.Uint64("dust_count", stats.DustCount),
				zap.Uint64("dust_amount", stats.DustAmount/scale),
				zap.Int("identities", len(merged)))
		}
	}

	stats.Duration = time.Since(start)
	if err := it.Err(); err != nil {
		return nil, stats, &SourceError{Op: "iterate", Err: err}
	}

	stats.Identities = len(merged)
	logger.Info("Done processing UTXOs",
		zap.Uint64("count", stats.Processed),
		zap.Uint64("total_amount", stats.TotalAmount/scale),
		zap.Uint64("dust_count", stats.DustCount),
		zap.Uint64("dust_amount", stats.DustAmount/scale),
		zap.Int("identities", stats.Identities),
		zap.Duration("duration", stats.Duration.Truncate(time.Second)))

	return merged, stats, nil
}
