package commit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/db"
	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/metrics"
	"github.com/canopy-network/utxo-exporter/pkg/retry"
)

var errWrite = errors.New("connection reset")

// memTarget keeps rows keyed like the relational primary keys and ignores conflicts.
type memTarget struct {
	name       string
	failWrites int // fail this many histogram writes, -1 for always
	onWrite    func()

	mu     sync.Mutex
	writes int
	tiers  map[[2]int64]models.DistributionTier
	top    map[[2]int64]models.TopEntry
}

func newMemTarget(name string) *memTarget {
	return &memTarget{
		name:  name,
		tiers: map[[2]int64]models.DistributionTier{},
		top:   map[[2]int64]models.TopEntry{},
	}
}

func (m *memTarget) Name() string                       { return m.name }
func (m *memTarget) EnsureSchema(context.Context) error { return nil }
func (m *memTarget) ClearAll(context.Context) error     { return nil }
func (m *memTarget) Close() error                       { return nil }

func (m *memTarget) ReadWatermark(context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest int64
	for k := range m.tiers {
		if k[1] == 0 && k[0] > latest {
			latest = k[0]
		}
	}
	return latest, latest > 0, nil
}

func (m *memTarget) WriteHistogram(ctx context.Context, rows []models.DistributionTier) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.onWrite != nil {
		m.onWrite()
	}
	if m.failWrites < 0 || m.writes <= m.failWrites {
		return 0, errWrite
	}
	var n int64
	for _, r := range rows {
		key := [2]int64{r.Timestamp, int64(r.Tier)}
		if _, ok := m.tiers[key]; !ok {
			m.tiers[key] = r
			n++
		}
	}
	return n, nil
}

func (m *memTarget) WriteTopEntries(ctx context.Context, rows []models.TopEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range rows {
		key := [2]int64{r.Timestamp, int64(r.Rank)}
		if _, ok := m.top[key]; !ok {
			m.top[key] = r
			n++
		}
	}
	return n, nil
}

func sampleResult(ts int64) *distribution.RunResult {
	r := &distribution.RunResult{Timestamp: ts}
	for i := range r.Tiers {
		r.Tiers[i] = models.DistributionTier{Timestamp: ts, Tier: int16(i)}
	}
	r.Tiers[3].Count, r.Tiers[3].Amount = 2, 750
	r.TopEntries = []models.TopEntry{
		{Timestamp: ts, Rank: 0, Identity: []byte("a"), Amount: 500},
		{Timestamp: ts, Rank: 1, Identity: []byte("b"), Amount: 250},
	}
	return r
}

func fastRetry(retries int) retry.Config {
	return retry.FixedConfig(retries, time.Millisecond)
}

func TestCommit_FailingTargetDoesNotBlockOthers(t *testing.T) {
	broken := newMemTarget("broken")
	broken.failWrites = -1
	healthy := newMemTarget("healthy")

	m := metrics.New(prometheus.NewRegistry())
	o := New([]db.Target{broken, healthy}, fastRetry(2), zap.NewNop(), m)
	report, err := o.Commit(context.Background(), sampleResult(1000))
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].Committed)
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
	assert.Contains(t, report.Outcomes[0].Error, "connection reset")
	assert.Equal(t, 3, broken.writes)

	assert.True(t, report.Outcomes[1].Committed)
	assert.Equal(t, int64(11), report.Outcomes[1].TiersWritten)
	assert.Equal(t, int64(2), report.Outcomes[1].TopWritten)
	assert.Len(t, healthy.tiers, 11)
	assert.Len(t, healthy.top, 2)
	assert.Equal(t, []string{"healthy"}, report.Committed())
}

func TestCommit_RetriesThenSucceeds(t *testing.T) {
	flaky := newMemTarget("flaky")
	flaky.failWrites = 2

	o := New([]db.Target{flaky}, fastRetry(5), nil, nil)
	report, err := o.Commit(context.Background(), sampleResult(2000))
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Committed)
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
	assert.Len(t, flaky.tiers, 11)
}

func TestCommit_IsIdempotent(t *testing.T) {
	target := newMemTarget("mem")
	o := New([]db.Target{target}, fastRetry(0), nil, nil)
	result := sampleResult(3000)

	_, err := o.Commit(context.Background(), result)
	require.NoError(t, err)
	tiers, top := len(target.tiers), len(target.top)

	report, err := o.Commit(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, tiers, len(target.tiers))
	assert.Equal(t, top, len(target.top))
	assert.Zero(t, report.Outcomes[0].TiersWritten)
	assert.Zero(t, report.Outcomes[0].TopWritten)
	assert.True(t, report.Outcomes[0].Committed)
}

func TestCommit_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stuck := newMemTarget("stuck")
	stuck.failWrites = -1
	stuck.onWrite = cancel
	never := newMemTarget("never")

	o := New([]db.Target{stuck, never}, retry.FixedConfig(20, time.Hour), nil, nil)

	start := time.Now()
	report, err := o.Commit(ctx, sampleResult(4000))
	require.Error(t, err)
	assert.ErrorIs(t, err, distribution.ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Committed)
	assert.Zero(t, never.writes)
}

func TestStatus_KeepsLastCommitted(t *testing.T) {
	target := newMemTarget("mem")
	o := New([]db.Target{target}, fastRetry(0), nil, nil)

	_, err := o.Commit(context.Background(), sampleResult(5000))
	require.NoError(t, err)

	target.failWrites = -1
	_, err = o.Commit(context.Background(), sampleResult(6000))
	require.NoError(t, err)

	status := o.Status()
	require.Len(t, status, 1)
	assert.False(t, status[0].Committed)
	assert.Equal(t, int64(6000), status[0].Timestamp)
	assert.Equal(t, int64(5000), status[0].LastCommitted)
}

func TestTargetError(t *testing.T) {
	err := &TargetError{Target: "pg", Attempt: 3, Err: errWrite}
	assert.ErrorIs(t, err, errWrite)
	assert.Equal(t, "commit to pg (attempt 3): connection reset", err.Error())
}
