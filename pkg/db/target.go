// Package db defines the persistence targets a run is committed to and opens
// them from database URLs.
package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chdistribution "github.com/canopy-network/utxo-exporter/pkg/db/clickhouse/distribution"
	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	pgdistribution "github.com/canopy-network/utxo-exporter/pkg/db/postgres/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/db/sqlite"
)

// Target is one relational store receiving every committed run.
//
// WriteHistogram and WriteTopEntries must be safe to repeat for the same run
// timestamp: rows that already exist are skipped, never duplicated.
type Target interface {
	// Name identifies the target in logs and status; credentials are redacted.
	Name() string
	EnsureSchema(ctx context.Context) error
	// ReadWatermark returns the newest recorded run timestamp in unix millis.
	ReadWatermark(ctx context.Context) (ts int64, ok bool, err error)
	WriteHistogram(ctx context.Context, rows []models.DistributionTier) (int64, error)
	WriteTopEntries(ctx context.Context, rows []models.TopEntry) (int64, error)
	// ClearAll deletes every stored run.
	ClearAll(ctx context.Context) error
	Close() error
}

// Kind is the storage engine behind a database URL.
type Kind string

const (
	Postgres   Kind = "postgres"
	ClickHouse Kind = "clickhouse"
	SQLite     Kind = "sqlite"
)

// ErrUnsupportedURL reports a database URL that cannot be mapped to a target.
var ErrUnsupportedURL = errors.New("unsupported database url")

// ParseKind validates raw and returns its storage engine.
func ParseKind(raw string) (Kind, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q is not <scheme>://...", ErrUnsupportedURL, Redact(raw))
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		if _, err := url.Parse(raw); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnsupportedURL, Redact(raw), err)
		}
		return Postgres, nil
	case "clickhouse", "tcp":
		if _, err := url.Parse(raw); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrUnsupportedURL, Redact(raw), err)
		}
		return ClickHouse, nil
	case "sqlite":
		return SQLite, nil
	default:
		return "", fmt.Errorf("%w: scheme %q in %s", ErrUnsupportedURL, scheme, Redact(raw))
	}
}

// Redact hides the password of raw. URLs that do not parse are reduced to
// their scheme so a malformed secret never reaches the logs.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if scheme, _, ok := strings.Cut(raw, "://"); ok {
			return scheme + "://<unparseable>"
		}
		return "<unparseable>"
	}
	return u.Redacted()
}

// Open connects to the target named by raw. Schema creation is left to the caller.
func Open(ctx context.Context, logger *zap.Logger, raw string) (Target, error) {
	kind, err := ParseKind(raw)
	if err != nil {
		return nil, err
	}
	name := Redact(raw)

	var target Target
	switch kind {
	case Postgres:
		target, err = pgdistribution.New(ctx, logger, raw, name)
	case ClickHouse:
		target, err = chdistribution.New(ctx, logger, raw, name)
	case SQLite:
		target, err = sqlite.New(ctx, logger, raw, name)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedURL, name)
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}
