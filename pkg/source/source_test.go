package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	cpebble "github.com/cockroachdb/pebble/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-network/utxo-exporter/pkg/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/source/pebble"
)

func mainnet(t *testing.T) NetworkID {
	t.Helper()
	id, err := ParseNetwork("mainnet")
	require.NoError(t, err)
	return id
}

func TestResolveConsensusDir(t *testing.T) {
	base := t.TempDir()
	network := mainnet(t)
	consensus := ConsensusBase(base, network)
	for _, name := range []string{"consensus-2", "consensus-10", "consensus-9", "meta", "consensus-x"} {
		require.NoError(t, os.MkdirAll(filepath.Join(consensus, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(consensus, "consensus-99"), nil, 0o644))

	dir, detected, err := ResolveConsensusDir(base, network, "")
	require.NoError(t, err)
	assert.True(t, detected)
	assert.Equal(t, filepath.Join(consensus, "consensus-10"), dir)

	dir, detected, err = ResolveConsensusDir(base, network, "consensus-2")
	require.NoError(t, err)
	assert.False(t, detected)
	assert.Equal(t, filepath.Join(consensus, "consensus-2"), dir)
}

func TestResolveConsensusDir_NoneFound(t *testing.T) {
	base := t.TempDir()
	network := mainnet(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ConsensusBase(base, network), "meta"), 0o755))

	_, _, err := ResolveConsensusDir(base, network, "")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = ResolveConsensusDir(t.TempDir(), network, "")
	assert.Error(t, err)
}

func TestNodeSource_ReadsLatestStore(t *testing.T) {
	base := t.TempDir()
	network := mainnet(t)
	dir := filepath.Join(ConsensusBase(base, network), "consensus-3")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	db, err := cpebble.Open(dir, &cpebble.Options{})
	require.NoError(t, err)
	key := append([]byte{pebble.UTXOPrefix}, "tx:0"...)
	value := pebble.EncodeEntry(pebble.UTXOEntry{Amount: 7, Script: []byte("carol")})
	require.NoError(t, db.Set(key, value, cpebble.Sync))
	require.NoError(t, db.Close())

	src := &NodeSource{BaseDir: base, Network: network}
	it, err := src.Open(context.Background())
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	assert.Equal(t, distribution.RawRecord{Identity: []byte("carol"), Amount: 7}, it.Record())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestNodeSource_MissingDirIsSourceUnavailable(t *testing.T) {
	src := &NodeSource{BaseDir: t.TempDir(), Network: mainnet(t)}
	_, err := src.Open(context.Background())
	assert.ErrorIs(t, err, distribution.ErrSourceUnavailable)
}

func TestSliceSource_Reopens(t *testing.T) {
	src := &SliceSource{Records: []distribution.RawRecord{{Identity: []byte("a"), Amount: 1}}}
	for i := 0; i < 2; i++ {
		it, err := src.Open(context.Background())
		require.NoError(t, err)
		require.True(t, it.Next())
		assert.False(t, it.Next())
		require.NoError(t, it.Close())
	}
}
