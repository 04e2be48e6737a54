package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/retry"
	"github.com/canopy-network/utxo-exporter/pkg/utils"
)

type Client struct {
	Logger         *zap.Logger
	Db             driver.Conn
	TargetDatabase string // Target database name (may differ from the current connection)
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"

	DefaultDatabase = "default"
)

// ConnectRetry is the retry policy for the initial connection.
var ConnectRetry = retry.Config{
	MaxAttempts:   3,
	InitialDelay:  1 * time.Second,
	MaxDelay:      5 * time.Second,
	Multiplier:    2.0,
	JitterEnabled: true,
}

// DefaultPoolConfig returns pool settings with CLICKHOUSE_* environment overrides.
func DefaultPoolConfig() PoolConfig {
	maxOpen := utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 5)
	maxIdle := utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 2)
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	return PoolConfig{
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: utils.EnvDuration("CLICKHOUSE_CONN_MAX_LIFETIME", 1*time.Hour),
	}
}

// ParseOptions turns dsn into driver options connected to the default database,
// returning the database named in the dsn separately so it can be created first.
func ParseOptions(dsn string, config PoolConfig) (*clickhouse.Options, string, error) {
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}

	target := options.Auth.Database
	if target == "" {
		target = DefaultDatabase
	}
	if options.Auth.Username == "" {
		options.Auth.Username = "default"
	}
	options.Auth.Database = DefaultDatabase

	if options.DialTimeout == 0 {
		options.DialTimeout = 30 * time.Second
	}
	options.MaxOpenConns = config.MaxOpenConns
	options.MaxIdleConns = config.MaxIdleConns
	options.ConnMaxLifetime = config.ConnMaxLifetime
	options.ConnOpenStrategy = parseConnOpenStrategy(utils.Env("CLICKHOUSE_CONN_STRATEGY", "in_order"))
	if options.Compression == nil {
		options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return options, target, nil
}

// New opens a connection for dsn. The connection stays on the default database;
// callers create TargetDatabase and qualify table names with it.
func New(ctx context.Context, logger *zap.Logger, dsn string, poolConfig ...*PoolConfig) (client Client, e error) {
	connCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	client.Logger = logger

	config := DefaultPoolConfig()
	if len(poolConfig) > 0 && poolConfig[0] != nil {
		config = *poolConfig[0]
	}

	options, target, err := ParseOptions(dsn, config)
	if err != nil {
		return Client{}, err
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		options.Debugf = logger.Named("clickhouse.driver").Sugar().Debugf
	}

	err = retry.WithBackoff(connCtx, ConnectRetry, logger, "clickhouse_connection", func(int) error {
		conn, err := clickhouse.Open(options)
		if err != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", err)
		}

		client.Logger.Debug("Pinging ClickHouse connection")
		if err := conn.Ping(connCtx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to ping clickhouse: %w", err)
		}

		client.Db = conn
		client.TargetDatabase = target

		client.Logger.Info("ClickHouse connection pool configured",
			zap.String("database", target),
			zap.Strings("replicas", options.Addr),
			zap.String("conn_strategy", formatConnOpenStrategy(options.ConnOpenStrategy)),
			zap.Int("max_open_conns", config.MaxOpenConns),
			zap.Int("max_idle_conns", config.MaxIdleConns),
			zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
		)
		return nil
	})
	if err != nil {
		return Client{}, err
	}

	return client, nil
}

// parseConnOpenStrategy converts a string to clickhouse.ConnOpenStrategy
// Supported values: "in_order", "round_robin", "random"
// Defaults to in_order if invalid value provided
func parseConnOpenStrategy(strategy string) clickhouse.ConnOpenStrategy {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "round_robin", "roundrobin":
		return clickhouse.ConnOpenRoundRobin
	case "random":
		return clickhouse.ConnOpenRandom
	default:
		return clickhouse.ConnOpenInOrder
	}
}

// formatConnOpenStrategy converts clickhouse.ConnOpenStrategy to human-readable string
func formatConnOpenStrategy(strategy clickhouse.ConnOpenStrategy) string {
	switch strategy {
	case clickhouse.ConnOpenRoundRobin:
		return "round_robin"
	case clickhouse.ConnOpenRandom:
		return "random"
	case clickhouse.ConnOpenInOrder:
		return "in_order"
	default:
		return "unknown"
	}
}

// Exec Helper method to execute raw SQL queries
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.Db.Exec(ctx, query, args...)
}

// QueryRow Helper method to query a single row
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	return c.Db.QueryRow(ctx, query, args...)
}

// PrepareBatch Helper method for batch inserts
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.Db.PrepareBatch(ctx, query)
}

// Close Helper method to close the connection
func (c *Client) Close() error {
	return c.Db.Close()
}

// Table returns the fully qualified name of table in the target database.
func (c *Client) Table(table string) string {
	return fmt.Sprintf("`%s`.`%s`", c.TargetDatabase, table)
}

// CreateDbIfNotExists ensures that the target database exists.
func (c *Client) CreateDbIfNotExists(ctx context.Context) error {
	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", c.TargetDatabase)
	c.Logger.Info("Creating database", zap.String("database", c.TargetDatabase))
	return c.Exec(ctx, query)
}

// IsNoRows Helper to check if the error is no rows
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
