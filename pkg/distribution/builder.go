package distribution

import (
	"context"
	"fmt"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
)

// Builder turns a merged identity -> amount map into a RunResult.
type Builder struct {
	// UnitScale converts atomic units to whole units.
	UnitScale uint64
	// TopCount is K; 0 keeps every qualifying identity.
	TopCount int
	// TopMinAmount is the whole-unit balance an identity must exceed to be ranked.
	TopMinAmount uint64
}

type tierSlot struct {
	count  uint64
	amount uint64
}

// Build makes a single pass over merged and stamps every row with timestamp.
// The context is checked every few thousand entries so shutdown does not wait
// for the whole map.
func (b *Builder) Build(ctx context.Context, merged map[string]uint64, timestamp int64) (RunResult, error) {
	scale := b.UnitScale
	if scale == 0 {
		scale = DefaultUnitScale
	}

	var slots [TierCount]tierSlot
	top := NewTopK(b.TopCount)

	var seen int
	for identity, amount := range merged {
		seen++
		if seen%4096 == 0 && ctx.Err() != nil {
			return RunResult{}, fmt.Errorf("%w while building: %w", ErrCancelled, ctx.Err())
		}

		whole := amount / scale
		tier := Classify(whole)
		slots[tier].count++
		slots[tier].amount += amount

		if whole > b.TopMinAmount {
			top.Offer(identity, amount)
		}
	}

	result := RunResult{Timestamp: timestamp}
	for idx, slot := range slots {
		result.Tiers[idx] = models.DistributionTier{
			Timestamp: timestamp,
			Tier:      int16(idx),
			Count:     int64(slot.count),
			Amount:    int64(slot.amount / scale),
		}
	}

	drained := top.Drain()
	result.TopEntries = make([]models.TopEntry, 0, len(drained))
	for rank, entry := range drained {
		result.TopEntries = append(result.TopEntries, models.TopEntry{
			Timestamp: timestamp,
			Rank:      int32(rank),
			Identity:  []byte(entry.identity),
			Amount:    int64(entry.amount / scale),
		})
	}

	return result, nil
}
