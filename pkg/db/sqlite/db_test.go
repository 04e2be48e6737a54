package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	url := Scheme + filepath.Join(t.TempDir(), "utxo.db")
	db, err := New(context.Background(), zap.NewNop(), url, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func runRows(ts int64) ([]models.DistributionTier, []models.TopEntry) {
	tiers := make([]models.DistributionTier, 11)
	for i := range tiers {
		tiers[i] = models.DistributionTier{Timestamp: ts, Tier: int16(i), Count: int64(i), Amount: int64(i * 100)}
	}
	top := []models.TopEntry{
		{Timestamp: ts, Rank: 0, Identity: []byte{0xaa}, Amount: 900},
		{Timestamp: ts, Rank: 1, Identity: []byte{0xbb}, Amount: 500},
	}
	return tiers, top
}

func TestPathFromURL(t *testing.T) {
	path, err := PathFromURL("sqlite:///var/lib/utxo.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/utxo.db", path)

	path, err = PathFromURL("sqlite://utxo.db")
	require.NoError(t, err)
	assert.Equal(t, "utxo.db", path)

	_, err = PathFromURL("sqlite://")
	assert.Error(t, err)
}

func TestWatermark_EmptyThenLatest(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	_, ok, err := db.ReadWatermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, ts := range []int64{1_000, 3_000, 2_000} {
		tiers, _ := runRows(ts)
		_, err := db.WriteHistogram(ctx, tiers)
		require.NoError(t, err)
	}

	ts, ok, err := db.ReadWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3_000), ts)
}

func TestWrite_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	tiers, top := runRows(42)

	n, err := db.WriteHistogram(ctx, tiers)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	n, err = db.WriteTopEntries(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.WriteHistogram(ctx, tiers)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.WriteTopEntries(ctx, top)
	require.NoError(t, err)
	assert.Zero(t, n)

	gotTiers, err := db.Tiers(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, tiers, gotTiers)

	gotTop, err := db.TopEntries(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, top, gotTop)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	tiers, top := runRows(7)
	_, err := db.WriteHistogram(ctx, tiers)
	require.NoError(t, err)
	_, err = db.WriteTopEntries(ctx, top)
	require.NoError(t, err)

	require.NoError(t, db.ClearAll(ctx))

	_, ok, err := db.ReadWatermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	gotTop, err := db.TopEntries(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, gotTop)
}
