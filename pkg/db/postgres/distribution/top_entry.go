package distribution

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/db/postgres"
)

func (db *DB) initTopEntries(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS top_entries (
			timestamp BIGINT NOT NULL,
			rank INTEGER NOT NULL,
			identity BYTEA NOT NULL,
			amount BIGINT NOT NULL,
			PRIMARY KEY (timestamp, rank)
		)
	`
	return db.Exec(ctx, query)
}

// WriteTopEntries inserts the ranked rows of a run in one transaction,
// skipping (timestamp, rank) pairs that already exist.
func (db *DB) WriteTopEntries(ctx context.Context, rows []models.TopEntry) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO top_entries (timestamp, rank, identity, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.Timestamp, row.Rank, row.Identity, row.Amount)
	}

	var written int64
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		n, err := postgres.SendBatchExec(ctx, tx, batch)
		written = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert top entries: %w", err)
	}
	return written, nil
}
