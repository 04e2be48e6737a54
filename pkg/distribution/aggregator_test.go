package distribution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAggregate_Success(t *testing.T) {
	it := &sliceIterator{records: []RawRecord{
		rec("alice", 3*DefaultUnitScale),
		rec("bob", 40*DefaultUnitScale),
		rec("alice", 2*DefaultUnitScale),
		rec("dust", 10),
	}}
	src := &stubSource{it: it}
	agg := NewAggregator(src, Options{DustThreshold: 100, TopCount: 5}, zap.NewNop())

	result, err := agg.Aggregate(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, it.closed)
	assert.Equal(t, int64(42), result.Timestamp)
	assert.Equal(t, uint64(4), result.Stats.Processed)
	assert.Equal(t, uint64(1), result.Stats.DustCount)
	assert.Equal(t, 2, result.Stats.Identities)

	// alice: 5 KAS -> tier 1, bob: 40 KAS -> tier 2
	assert.Equal(t, int64(1), result.Tiers[1].Count)
	assert.Equal(t, int64(5), result.Tiers[1].Amount)
	assert.Equal(t, int64(1), result.Tiers[2].Count)
	assert.Equal(t, int64(40), result.Tiers[2].Amount)

	require.Len(t, result.TopEntries, 2)
	assert.Equal(t, []byte("bob"), result.TopEntries[0].Identity)
	assert.Equal(t, []byte("alice"), result.TopEntries[1].Identity)
}

func TestAggregate_OpenFailureIsSourceUnavailable(t *testing.T) {
	src := &stubSource{openErr: errDisk}
	agg := NewAggregator(src, Options{}, nil)

	result, err := agg.Aggregate(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, errDisk)
	assert.Empty(t, result.TopEntries)
	assert.Equal(t, 1, src.opens)
}

func TestAggregate_KeepsTypedSourceError(t *testing.T) {
	src := &stubSource{openErr: &SourceError{Op: "resolve", Err: errDisk}}
	agg := NewAggregator(src, Options{}, nil)

	_, err := agg.Aggregate(context.Background(), 1)
	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, "resolve", srcErr.Op)
}

func TestAggregate_CancelledMidIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := make([]RawRecord, 100)
	for i := range records {
		records[i] = rec("id", DefaultUnitScale)
	}
	it := &sliceIterator{records: records, afterN: 20, onAfter: cancel}
	agg := NewAggregator(&stubSource{it: it}, Options{}, nil)

	result, err := agg.Aggregate(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
	assert.True(t, it.closed)
	assert.Zero(t, result.Timestamp)
	assert.Less(t, it.pos, len(records))
}

func TestAggregate_AlreadyCancelledDoesNotOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &stubSource{it: &sliceIterator{}}
	_, err := NewAggregator(src, Options{}, nil).Aggregate(ctx, 1)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, src.opens)
}
