package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidNetwork reports a network identifier that cannot be parsed.
var ErrInvalidNetwork = errors.New("invalid network id")

// NetworkType is the family of a node network.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Devnet  NetworkType = "devnet"
	Simnet  NetworkType = "simnet"
)

// NetworkID identifies the network whose data directory is scanned, e.g. mainnet or testnet-10.
type NetworkID struct {
	Type      NetworkType
	Suffix    uint32
	HasSuffix bool
}

// ParseNetwork parses "<type>" or "<type>-<suffix>". Testnet requires a suffix.
func ParseNetwork(s string) (NetworkID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return NetworkID{}, fmt.Errorf("%w: empty", ErrInvalidNetwork)
	}

	name, suffix, hasSuffix := strings.Cut(s, "-")
	id := NetworkID{Type: NetworkType(name)}
	switch id.Type {
	case Mainnet, Testnet, Devnet, Simnet:
	default:
		return NetworkID{}, fmt.Errorf("%w: unknown network type %q", ErrInvalidNetwork, name)
	}

	if hasSuffix {
		n, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil {
			return NetworkID{}, fmt.Errorf("%w: bad suffix %q in %q", ErrInvalidNetwork, suffix, s)
		}
		id.Suffix = uint32(n)
		id.HasSuffix = true
	}
	if id.Type == Testnet && !id.HasSuffix {
		return NetworkID{}, fmt.Errorf("%w: testnet requires a numeric suffix, e.g. testnet-10", ErrInvalidNetwork)
	}
	return id, nil
}

func (n NetworkID) String() string {
	if n.HasSuffix {
		return fmt.Sprintf("%s-%d", n.Type, n.Suffix)
	}
	return string(n.Type)
}

// Prefixed is the node's data directory name for this network.
func (n NetworkID) Prefixed() string {
	return "kaspa-" + n.String()
}
