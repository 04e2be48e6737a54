// Package sqlite is a file-backed persistence target, convenient for a single
// host or for inspecting runs without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
)

const Scheme = "sqlite://"

// DB is a SQLite persistence target for distribution runs.
type DB struct {
	Logger *zap.Logger
	db     *sql.DB
	name   string
	path   string
}

// PathFromURL maps sqlite://relative.db and sqlite:///absolute.db to a file path.
func PathFromURL(url string) (string, error) {
	path := strings.TrimPrefix(url, Scheme)
	if path == "" || path == url {
		return "", fmt.Errorf("sqlite url %q has no database path", url)
	}
	return path, nil
}

// New opens (creating if needed) the database file named by url.
func New(ctx context.Context, logger *zap.Logger, url, name string) (*DB, error) {
	path, err := PathFromURL(url)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection serialises writers and keeps PRAGMAs in effect
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("configure sqlite %s: %w", path, err)
		}
	}

	logger = logger.With(zap.String("target", name))
	logger.Info("SQLite database opened", zap.String("path", path))
	return &DB{Logger: logger, db: conn, name: name, path: path}, nil
}

func (db *DB) Name() string { return db.name }

// EnsureSchema creates the distribution tables when they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS distribution_tiers (
			timestamp INTEGER NOT NULL,
			tier INTEGER NOT NULL,
			count INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			PRIMARY KEY (timestamp, tier)
		)`,
		`CREATE TABLE IF NOT EXISTS top_entries (
			timestamp INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			identity BLOB NOT NULL,
			amount INTEGER NOT NULL,
			PRIMARY KEY (timestamp, rank)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// ReadWatermark returns the newest run timestamp recorded for tier 0.
func (db *DB) ReadWatermark(ctx context.Context) (int64, bool, error) {
	var ts sql.NullInt64
	err := db.db.QueryRowContext(ctx, `SELECT max(timestamp) FROM distribution_tiers WHERE tier = 0`).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("query last distribution tier: %w", err)
	}
	return ts.Int64, ts.Valid, nil
}

// WriteHistogram inserts the tier rows of a run, ignoring rows already present.
func (db *DB) WriteHistogram(ctx context.Context, rows []models.DistributionTier) (int64, error) {
	return db.insert(ctx, "distribution_tiers",
		`INSERT OR IGNORE INTO distribution_tiers (timestamp, tier, count, amount) VALUES (?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.Timestamp, r.Tier, r.Count, r.Amount}
		})
}

// WriteTopEntries inserts the ranked rows of a run, ignoring rows already present.
func (db *DB) WriteTopEntries(ctx context.Context, rows []models.TopEntry) (int64, error) {
	return db.insert(ctx, "top_entries",
		`INSERT OR IGNORE INTO top_entries (timestamp, rank, identity, amount) VALUES (?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.Timestamp, r.Rank, r.Identity, r.Amount}
		})
}

func (db *DB) insert(ctx context.Context, table, query string, n int, args func(i int) []any) (int64, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s insert: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	var written int64
	for i := 0; i < n; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, fmt.Errorf("insert %s row %d: %w", table, i, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert %s row %d: %w", table, i, err)
		}
		written += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s insert: %w", table, err)
	}
	return written, nil
}

// ClearAll empties both tables.
func (db *DB) ClearAll(ctx context.Context) error {
	db.Logger.Warn("Deleting all distribution rows")
	for _, table := range []string{models.DistributionTiersTableName, models.TopEntriesTableName} {
		if _, err := db.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// TopEntries returns the ranked rows of one run in rank order.
func (db *DB) TopEntries(ctx context.Context, timestamp int64) ([]models.TopEntry, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT timestamp, rank, identity, amount FROM top_entries WHERE timestamp = ? ORDER BY rank`, timestamp)
	if err != nil {
		return nil, fmt.Errorf("query top entries: %w", err)
	}
	defer rows.Close()

	var out []models.TopEntry
	for rows.Next() {
		var e models.TopEntry
		if err := rows.Scan(&e.Timestamp, &e.Rank, &e.Identity, &e.Amount); err != nil {
			return nil, fmt.Errorf("scan top entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tiers returns the histogram rows of one run in tier order.
func (db *DB) Tiers(ctx context.Context, timestamp int64) ([]models.DistributionTier, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT timestamp, tier, count, amount FROM distribution_tiers WHERE timestamp = ? ORDER BY tier`, timestamp)
	if err != nil {
		return nil, fmt.Errorf("query distribution tiers: %w", err)
	}
	defer rows.Close()

	var out []models.DistributionTier
	for rows.Next() {
		var t models.DistributionTier
		if err := rows.Scan(&t.Timestamp, &t.Tier, &t.Count, &t.Amount); err != nil {
			return nil, fmt.Errorf("scan distribution tier: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) Close() error {
	return db.db.Close()
}
