package distribution

const TopEntriesTableName = "top_entries"

// TopEntryColumns defines the ClickHouse schema for the top_entries table.
var TopEntryColumns = []ColumnDef{
	{Name: "timestamp", Type: "Int64", Codec: "Delta, ZSTD(3)"},
	{Name: "rank", Type: "Int32"},
	{Name: "identity", Type: "String", Codec: "ZSTD(3)"},
	{Name: "amount", Type: "Int64", Codec: "ZSTD(1)"},
}

// TopEntry is one ranked identity of a run. Rank 0 holds the highest amount.
// Identity is the raw script public key; Amount is in whole units.
type TopEntry struct {
	Timestamp int64  `ch:"timestamp" json:"timestamp"`
	Rank      int32  `ch:"rank" json:"rank"`
	Identity  []byte `ch:"identity" json:"identity"`
	Amount    int64  `ch:"amount" json:"amount"`
}
