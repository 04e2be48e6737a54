package distribution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_ThreeIdentitiesTopTwo(t *testing.T) {
	merged := map[string]uint64{"five": 5, "fifty": 50, "five-hundred": 500}

	b := Builder{UnitScale: 1, TopCount: 2, TopMinAmount: 0}
	result, err := b.Build(context.Background(), merged, 1_700_000_000_000)
	require.NoError(t, err)

	require.Len(t, result.TopEntries, 2)
	assert.Equal(t, int32(0), result.TopEntries[0].Rank)
	assert.Equal(t, int64(500), result.TopEntries[0].Amount)
	assert.Equal(t, []byte("five-hundred"), result.TopEntries[0].Identity)
	assert.Equal(t, int32(1), result.TopEntries[1].Rank)
	assert.Equal(t, int64(50), result.TopEntries[1].Amount)

	for idx, tier := range result.Tiers {
		assert.Equal(t, int16(idx), tier.Tier)
		assert.Equal(t, int64(1_700_000_000_000), tier.Timestamp)
		switch idx {
		case Classify(5), Classify(50), Classify(500):
			assert.Equal(t, int64(1), tier.Count, "tier %d", idx)
			assert.NotZero(t, tier.Amount, "tier %d", idx)
		default:
			assert.Zero(t, tier.Count, "tier %d", idx)
			assert.Zero(t, tier.Amount, "tier %d", idx)
		}
	}
	for _, entry := range result.TopEntries {
		assert.Equal(t, int64(1_700_000_000_000), entry.Timestamp)
	}
}

func TestBuild_ConvertsToWholeUnits(t *testing.T) {
	scale := DefaultUnitScale
	merged := map[string]uint64{
		"sub-unit": scale / 2,
		"one":      scale + scale/2,
		"whale":    2_000_000 * scale,
	}

	b := Builder{UnitScale: scale, TopCount: 10, TopMinAmount: 1}
	result, err := b.Build(context.Background(), merged, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Tiers[0].Count)
	assert.Equal(t, int64(0), result.Tiers[0].Amount)
	assert.Equal(t, int64(1), result.Tiers[1].Count)
	assert.Equal(t, int64(1), result.Tiers[1].Amount)
	assert.Equal(t, int64(1), result.Tiers[7].Count)
	assert.Equal(t, int64(2_000_000), result.Tiers[7].Amount)

	// only "whale" exceeds the ranking minimum of one whole unit
	require.Len(t, result.TopEntries, 1)
	assert.Equal(t, int64(2_000_000), result.TopEntries[0].Amount)
}

func TestBuild_RankingThresholdIsExclusive(t *testing.T) {
	merged := map[string]uint64{"at": 100, "above": 101, "below": 99}

	b := Builder{UnitScale: 1, TopCount: 0, TopMinAmount: 100}
	result, err := b.Build(context.Background(), merged, 1)
	require.NoError(t, err)

	require.Len(t, result.TopEntries, 1)
	assert.Equal(t, []byte("above"), result.TopEntries[0].Identity)
}

func TestBuild_EmptyInputStillEmitsAllTiers(t *testing.T) {
	b := Builder{UnitScale: 1, TopCount: 5}
	result, err := b.Build(context.Background(), map[string]uint64{}, 42)
	require.NoError(t, err)

	rows := result.TierRows()
	require.Len(t, rows, TierCount)
	for idx, row := range rows {
		assert.Equal(t, int16(idx), row.Tier)
		assert.Equal(t, int64(42), row.Timestamp)
	}
	assert.Empty(t, result.TopEntries)
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	merged := make(map[string]uint64, 10_000)
	for i := 0; i < 10_000; i++ {
		merged[fmt.Sprintf("id-%d", i)] = uint64(i)
	}

	b := Builder{UnitScale: 1}
	_, err := b.Build(ctx, merged, 1)
	assert.ErrorIs(t, err, ErrCancelled)
}

// TestAggregationProperties checks the histogram and top-K output against a
// brute-force computation over random record streams.
func TestAggregationProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for round := 0; round < 25; round++ {
		dust := uint64(rng.Intn(50_000))
		scale := uint64(1 + rng.Intn(1000))
		topCount := rng.Intn(20)
		topMin := uint64(rng.Intn(100))

		records := make([]RawRecord, 0, 2000)
		for i := 0; i < 2000; i++ {
			id := fmt.Sprintf("id-%d", rng.Intn(300))
			records = append(records, rec(id, uint64(rng.Int63n(1_000_000))))
		}

		want := map[string]uint64{}
		for _, r := range records {
			if r.Amount >= dust {
				want[string(r.Identity)] += r.Amount
			}
		}

		acc := Accumulator{DustThreshold: dust, UnitScale: scale}
		merged, _, err := acc.Accumulate(ctx, &sliceIterator{records: records})
		require.NoError(t, err)
		assert.Equal(t, want, merged)

		b := Builder{UnitScale: scale, TopCount: topCount, TopMinAmount: topMin}
		result, err := b.Build(ctx, merged, 99)
		require.NoError(t, err)

		// histogram: counts cover every identity, amounts are per-tier truncated totals
		var perTier [TierCount]uint64
		var grandTotal uint64
		for _, v := range want {
			perTier[Classify(v/scale)] += v
			grandTotal += v
		}
		var countSum, amountSum int64
		for idx, tier := range result.Tiers {
			countSum += tier.Count
			amountSum += tier.Amount
			assert.Equal(t, int64(perTier[idx]/scale), tier.Amount, "round %d tier %d", round, idx)
		}
		assert.Equal(t, int64(len(want)), countSum, "round %d", round)
		assert.LessOrEqual(t, amountSum, int64(grandTotal/scale))

		// top-K: same amounts as a full sort of the qualifying identities
		var qualifying []uint64
		for _, v := range want {
			if v/scale > topMin {
				qualifying = append(qualifying, v)
			}
		}
		sort.Slice(qualifying, func(i, j int) bool { return qualifying[i] > qualifying[j] })
		if topCount > 0 && len(qualifying) > topCount {
			qualifying = qualifying[:topCount]
		}

		require.Len(t, result.TopEntries, len(qualifying), "round %d", round)
		for i, entry := range result.TopEntries {
			assert.Equal(t, int32(i), entry.Rank)
			assert.Equal(t, int64(qualifying[i]/scale), entry.Amount)
			assert.Greater(t, entry.Amount, int64(topMin))
			if i > 0 {
				assert.LessOrEqual(t, entry.Amount, result.TopEntries[i-1].Amount)
			}
		}
	}
}
