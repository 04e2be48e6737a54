package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var consensusDirPattern = regexp.MustCompile(`^consensus-(\d+)$`)

// ConsensusBase returns <base>/<prefixed network>/datadir/consensus.
func ConsensusBase(baseDir string, network NetworkID) string {
	return filepath.Join(baseDir, network.Prefixed(), "datadir", "consensus")
}

// ResolveConsensusDir returns the consensus store to read. An explicit dir is
// joined as is; otherwise the consensus-<n> entry with the highest n is picked.
// The returned bool reports whether the directory was auto-detected.
func ResolveConsensusDir(baseDir string, network NetworkID, dir string) (string, bool, error) {
	base := ConsensusBase(baseDir, network)
	if dir != "" {
		return filepath.Join(base, dir), false, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", true, fmt.Errorf("read consensus base %s: %w", base, err)
	}

	best, bestN := "", uint64(0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := consensusDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		if best == "" || n > bestN {
			best, bestN = entry.Name(), n
		}
	}
	if best == "" {
		return "", true, fmt.Errorf("no consensus-<n> directory found in %s: %w", base, os.ErrNotExist)
	}
	return filepath.Join(base, best), true, nil
}
