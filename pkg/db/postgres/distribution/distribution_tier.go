package distribution

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/db/postgres"
)

func (db *DB) initDistributionTiers(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS distribution_tiers (
			timestamp BIGINT NOT NULL,
			tier SMALLINT NOT NULL,
			count BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			PRIMARY KEY (timestamp, tier)
		)
	`
	return db.Exec(ctx, query)
}

// ReadWatermark returns the newest run timestamp recorded for tier 0.
func (db *DB) ReadWatermark(ctx context.Context) (int64, bool, error) {
	var ts *int64
	err := db.QueryRow(ctx, `SELECT max(timestamp) FROM distribution_tiers WHERE tier = 0`).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("query last distribution tier: %w", err)
	}
	if ts == nil {
		return 0, false, nil
	}
	return *ts, true, nil
}

// WriteHistogram inserts the tier rows of a run in one transaction. Rows whose
// (timestamp, tier) already exist are skipped, so a retried write is a no-op.
func (db *DB) WriteHistogram(ctx context.Context, rows []models.DistributionTier) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO distribution_tiers (timestamp, tier, count, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.Timestamp, row.Tier, row.Count, row.Amount)
	}

	var written int64
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		n, err := postgres.SendBatchExec(ctx, tx, batch)
		written = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert distribution tiers: %w", err)
	}
	return written, nil
}
