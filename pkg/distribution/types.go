package distribution

import (
	"time"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
)

const (
	// TierCount is the number of histogram buckets emitted by every run.
	TierCount = 11

	// DefaultUnitScale is the number of atomic units (sompi) per whole unit (KAS).
	DefaultUnitScale uint64 = 100_000_000

	// DefaultProgressEvery is how many records pass between progress log lines.
	DefaultProgressEvery uint64 = 1_000_000
)

// RawRecord is one unspent output owned by Identity. Amount is in atomic units.
type RawRecord struct {
	Identity []byte
	Amount   uint64
}

// RecordIterator is a lazy, finite sequence of raw records.
// Next advances and reports whether a record is available; Err reports the
// error that stopped iteration early, if any. The Identity returned by Record
// may be reused by the iterator and is only valid until the next call to Next.
type RecordIterator interface {
	Next() bool
	Record() RawRecord
	Err() error
	Close() error
}

// ScanStats are diagnostic counters of one accumulation. Never persisted.
type ScanStats struct {
	Processed   uint64
	TotalAmount uint64
	DustCount   uint64
	DustAmount  uint64
	Identities  int
	Duration    time.Duration
}

// RunResult is the complete output of one pass, handed whole to the committer.
type RunResult struct {
	Timestamp  int64
	Tiers      [TierCount]models.DistributionTier
	TopEntries []models.TopEntry
	Stats      ScanStats
}

// TierRows returns the histogram rows as a slice, in tier order.
func (r *RunResult) TierRows() []models.DistributionTier {
	rows := make([]models.DistributionTier, TierCount)
	copy(rows, r.Tiers[:])
	return rows
}
