// Package source provides the raw-record sources scanned by each pass.
package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/source/pebble"
)

// NodeSource reads the UTXO set from a node's on-disk consensus store.
// The consensus directory is resolved on every Open so a node that rotates
// its store between passes is followed.
type NodeSource struct {
	BaseDir      string
	Network      NetworkID
	ConsensusDir string
	Logger       *zap.Logger
}

var _ distribution.Source = (*NodeSource)(nil)

func (s *NodeSource) Open(ctx context.Context) (distribution.RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir, detected, err := ResolveConsensusDir(s.BaseDir, s.Network, s.ConsensusDir)
	if err != nil {
		return nil, &distribution.SourceError{Op: "resolve consensus dir", Err: err}
	}
	if detected {
		logger.Info("Using auto-detected consensus directory", zap.String("path", dir))
	} else {
		logger.Info("Using specified consensus directory", zap.String("path", dir))
	}

	it, err := pebble.Open(dir)
	if err != nil {
		return nil, &distribution.SourceError{Op: "open", Err: err}
	}
	return it, nil
}

// SliceSource serves a fixed set of records. Every Open starts from the beginning.
type SliceSource struct {
	Records []distribution.RawRecord
}

var _ distribution.Source = (*SliceSource)(nil)

func (s *SliceSource) Open(ctx context.Context) (distribution.RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceIterator{records: s.Records}, nil
}

type sliceIterator struct {
	records []distribution.RawRecord
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Record() distribution.RawRecord { return it.records[it.pos-1] }
func (it *sliceIterator) Err() error                     { return nil }
func (it *sliceIterator) Close() error                   { return nil }
