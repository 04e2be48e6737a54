package distribution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/db/postgres"
)

// DB is a PostgreSQL persistence target for distribution runs.
type DB struct {
	postgres.Client
	name string
}

// New connects to url. name is the redacted url used in logs.
func New(ctx context.Context, logger *zap.Logger, url, name string) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("target", name)), url)
	if err != nil {
		return nil, err
	}
	return &DB{Client: client, name: name}, nil
}

func (db *DB) Name() string { return db.name }

// EnsureSchema creates the distribution tables when they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.Logger.Info("Initialize distribution_tiers table")
	if err := db.initDistributionTiers(ctx); err != nil {
		return fmt.Errorf("create distribution_tiers: %w", err)
	}

	db.Logger.Info("Initialize top_entries table")
	if err := db.initTopEntries(ctx); err != nil {
		return fmt.Errorf("create top_entries: %w", err)
	}
	return nil
}

// ClearAll empties both tables.
func (db *DB) ClearAll(ctx context.Context) error {
	db.Logger.Warn("Truncating distribution tables")
	return db.Exec(ctx, `TRUNCATE TABLE distribution_tiers, top_entries`)
}

// Close terminates the underlying connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
