package distribution

const DistributionTiersTableName = "distribution_tiers"

// DistributionTierColumns defines the ClickHouse schema for the distribution_tiers table.
var DistributionTierColumns = []ColumnDef{
	{Name: "timestamp", Type: "Int64", Codec: "Delta, ZSTD(3)"},
	{Name: "tier", Type: "Int16"},
	{Name: "count", Type: "Int64", Codec: "ZSTD(1)"},
	{Name: "amount", Type: "Int64", Codec: "ZSTD(1)"},
}

// DistributionTier is one histogram bucket of a run.
//
// Every run writes exactly TierCount rows sharing the same Timestamp (unix millis of the
// pass start). Amount is expressed in whole units. (Timestamp, Tier) is the primary key,
// so re-submitting the rows of a run is a no-op.
type DistributionTier struct {
	Timestamp int64 `ch:"timestamp" json:"timestamp"`
	Tier      int16 `ch:"tier" json:"tier"`
	Count     int64 `ch:"count" json:"count"`
	Amount    int64 `ch:"amount" json:"amount"`
}
