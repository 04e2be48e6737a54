package distribution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/db/clickhouse"
	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
)

// DB is a ClickHouse persistence target for distribution runs.
//
// ClickHouse has no conflict clause on INSERT, so writes check for the run
// timestamp first; tables are ReplacingMergeTree keyed like the relational
// primary keys so a racing duplicate still collapses on merge.
type DB struct {
	clickhouse.Client
	name string
}

// New connects to dsn. name is the redacted dsn used in logs.
func New(ctx context.Context, logger *zap.Logger, dsn, name string) (*DB, error) {
	client, err := clickhouse.New(ctx, logger.With(zap.String("target", name)), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Client: client, name: name}, nil
}

func (db *DB) Name() string { return db.name }

// EnsureSchema creates the target database and both tables.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if err := db.CreateDbIfNotExists(ctx); err != nil {
		return fmt.Errorf("create database %s: %w", db.TargetDatabase, err)
	}

	db.Logger.Info("Initialize distribution_tiers table", zap.String("database", db.TargetDatabase))
	if err := db.createTable(ctx, models.DistributionTiersTableName, models.DistributionTierColumns, "timestamp, tier"); err != nil {
		return err
	}

	db.Logger.Info("Initialize top_entries table", zap.String("database", db.TargetDatabase))
	return db.createTable(ctx, models.TopEntriesTableName, models.TopEntryColumns, "timestamp, rank")
}

func (db *DB) createTable(ctx context.Context, table string, columns []models.ColumnDef, orderBy string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = %s
		ORDER BY (%s)
	`, db.Table(table), models.ColumnsToSchemaSQL(columns), clickhouse.ReplacingMergeTree, orderBy)

	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// ReadWatermark returns the newest run timestamp recorded for tier 0.
// max() over an empty table is 0 in ClickHouse, which reads as no watermark.
func (db *DB) ReadWatermark(ctx context.Context) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT max(timestamp) FROM %s WHERE tier = 0`, db.Table(models.DistributionTiersTableName))

	var ts int64
	if err := db.QueryRow(ctx, query).Scan(&ts); err != nil {
		if clickhouse.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query last distribution tier: %w", err)
	}
	if ts == 0 {
		return 0, false, nil
	}
	return ts, true, nil
}

// WriteHistogram inserts the tier rows of a run unless that run is already recorded.
func (db *DB) WriteHistogram(ctx context.Context, rows []models.DistributionTier) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table := models.DistributionTiersTableName
	exists, err := db.hasRun(ctx, table, rows[0].Timestamp)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	batch, err := db.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", db.Table(table), models.ColumnNames(models.DistributionTierColumns)))
	if err != nil {
		return 0, fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("append %s row: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send %s batch: %w", table, err)
	}
	return int64(len(rows)), nil
}

// WriteTopEntries inserts the ranked rows of a run unless that run is already recorded.
func (db *DB) WriteTopEntries(ctx context.Context, rows []models.TopEntry) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table := models.TopEntriesTableName
	exists, err := db.hasRun(ctx, table, rows[0].Timestamp)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	batch, err := db.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", db.Table(table), models.ColumnNames(models.TopEntryColumns)))
	if err != nil {
		return 0, fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("append %s row: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send %s batch: %w", table, err)
	}
	return int64(len(rows)), nil
}

func (db *DB) hasRun(ctx context.Context, table string, timestamp int64) (bool, error) {
	query := fmt.Sprintf(`SELECT count() FROM %s WHERE timestamp = ?`, db.Table(table))
	var n uint64
	if err := db.QueryRow(ctx, query, timestamp).Scan(&n); err != nil {
		return false, fmt.Errorf("check %s for run %d: %w", table, timestamp, err)
	}
	return n > 0, nil
}

// ClearAll empties both tables.
func (db *DB) ClearAll(ctx context.Context) error {
	db.Logger.Warn("Truncating distribution tables", zap.String("database", db.TargetDatabase))
	for _, table := range []string{models.DistributionTiersTableName, models.TopEntriesTableName} {
		if err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", db.Table(table))); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
