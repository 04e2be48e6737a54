package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/retry"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// This allows methods to work with either a connection pool or a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Client wraps a PostgreSQL connection pool and provides helper methods
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig is sized for a single writer: one commit in flight per target.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:        1,
		MaxConns:        10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// ConnectRetry is the retry policy for the initial connection.
var ConnectRetry = retry.Config{
	MaxAttempts:   3,
	InitialDelay:  1 * time.Second,
	MaxDelay:      5 * time.Second,
	Multiplier:    2.0,
	JitterEnabled: true,
}

// New connects to the database named in url and verifies the connection with a ping.
func New(ctx context.Context, logger *zap.Logger, url string, poolConfig ...*PoolConfig) (client Client, err error) {
	connCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	client.Logger = logger

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse postgres url: %w", err)
	}

	poolConf := DefaultPoolConfig()
	if len(poolConfig) > 0 && poolConfig[0] != nil {
		poolConf = *poolConfig[0]
	}
	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime

	retryErr := retry.WithBackoff(connCtx, ConnectRetry, logger, "postgres_connection", func(int) error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		logger.Debug("Pinging PostgreSQL connection", zap.String("database", config.ConnConfig.Database))
		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}
		client.Pool = pool

		logger.Info("PostgreSQL connection pool configured",
			zap.String("database", config.ConnConfig.Database),
			zap.Int32("min_conns", poolConf.MinConns),
			zap.Int32("max_conns", poolConf.MaxConns),
			zap.Duration("conn_max_lifetime", poolConf.ConnMaxLifetime),
			zap.Duration("conn_max_idle_time", poolConf.ConnMaxIdleTime),
		)
		return nil
	})
	if retryErr != nil {
		return Client{}, retryErr
	}

	return client, nil
}

// Exec executes a query without returning any rows
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.Pool.Exec(ctx, query, args...)
	return err
}

// QueryRow executes a query that is expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return c.Pool.QueryRow(ctx, query, args...)
}

// BeginFunc executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (c *Client) BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, fn)
}

// Close closes the connection pool
func (c *Client) Close() {
	c.Pool.Close()
}

// TableExists checks if a table exists in the public schema
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`

	var exists bool
	err := c.Pool.QueryRow(ctx, query, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check if table exists %s: %w", table, err)
	}

	return exists, nil
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SendBatchExec runs every queued statement of batch on exec and returns the
// total number of rows affected.
func SendBatchExec(ctx context.Context, exec Executor, batch *pgx.Batch) (int64, error) {
	results := exec.SendBatch(ctx, batch)
	var affected int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return affected, fmt.Errorf("batch statement %d: %w", i, err)
		}
		affected += tag.RowsAffected()
	}
	return affected, results.Close()
}
