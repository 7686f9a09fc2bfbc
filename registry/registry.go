// Package registry resolves CAIP-2 network identifiers to the settlement
// parameters of enabled networks. It is built once at startup and is the
// single owner of network-identifier parsing; everything downstream
// dispatches on the descriptor's family tag, never on identifier strings.
package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/types"
)

// Well-known CAIP-2 identifiers. Solana references are the first 32
// characters of the cluster genesis hash.
const (
	NetworkBase        = "eip155:8453"
	NetworkBaseSepolia = "eip155:84532"
	NetworkPolygon     = "eip155:137"
	NetworkPolygonAmoy = "eip155:80002"

	NetworkSolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// EIP-712 domain defaults for the exact scheme's canonical settlement asset.
const (
	DefaultEIP712Name    = "USD Coin"
	DefaultEIP712Version = "2"
)

// Family tags the chain family a descriptor settles on.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// ErrUnknownNetwork is returned for every identifier Resolve cannot map to
// an enabled descriptor. Malformed identifiers (bare chain ids, empty or
// non-numeric eip155 references, legacy aliases such as "base") are
// deliberately indistinguishable from unconfigured ones.
var ErrUnknownNetwork = errors.New("unknown network")

// Descriptor holds the settlement parameters of one enabled network.
type Descriptor struct {
	// Network is the canonical CAIP-2 identifier.
	Network string

	Family Family

	// ChainID is set for EVM descriptors only.
	ChainID *big.Int

	RPCURL string

	// Asset is the ERC-20 contract address or SPL mint settled against.
	Asset         string
	AssetDecimals int

	// EIP712Name and EIP712Version are resolved at build time (config value
	// or scheme default) and are non-empty for EVM descriptors.
	EIP712Name    string
	EIP712Version string

	// SignerKey is the facilitator's signing credential; SignerAddress its
	// public address. Both are present, otherwise the network would not
	// have been enabled.
	SignerKey     string
	SignerAddress string
}

// Registry is the static table of enabled networks.
type Registry struct {
	descriptors map[string]*Descriptor
	evmChains   map[uint64]*Descriptor
	order       []string
}

// New builds the registry from configuration. Entries without a complete
// signing identity are skipped and stay invisible everywhere; malformed
// identifiers on enabled entries fail construction.
func New(cfg *types.Config, log logger.Logger) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]*Descriptor),
		evmChains:   make(map[uint64]*Descriptor),
	}

	for i := range cfg.Networks {
		nc := &cfg.Networks[i]
		if !nc.Enabled() {
			log.Info("skipping network without signing identity", map[string]any{
				"network": nc.Network,
			})
			continue
		}

		d, err := buildDescriptor(nc)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", nc.Network, err)
		}
		if _, dup := r.descriptors[d.Network]; dup {
			return nil, fmt.Errorf("network %q: declared twice", d.Network)
		}

		r.descriptors[d.Network] = d
		if d.Family == FamilyEVM {
			r.evmChains[d.ChainID.Uint64()] = d
		}
		r.order = append(r.order, d.Network)

		log.Info("network enabled", map[string]any{
			"network": d.Network,
			"family":  string(d.Family),
			"asset":   d.Asset,
			"signer":  d.SignerAddress,
		})
	}

	return r, nil
}

func buildDescriptor(nc *types.NetworkConfig) (*Descriptor, error) {
	d := &Descriptor{
		RPCURL:        nc.RPCURL,
		Asset:         nc.Asset,
		AssetDecimals: nc.AssetDecimals,
		SignerKey:     nc.SignerKey,
		SignerAddress: nc.SignerAddress,
	}

	switch {
	case strings.HasPrefix(nc.Network, "eip155:"):
		chainID, err := parseEVMReference(strings.TrimPrefix(nc.Network, "eip155:"))
		if err != nil {
			return nil, err
		}
		d.Family = FamilyEVM
		d.ChainID = new(big.Int).SetUint64(chainID)
		d.Network = fmt.Sprintf("eip155:%d", chainID)
		d.EIP712Name = nc.EIP712Name
		d.EIP712Version = nc.EIP712Version
		if d.EIP712Name == "" {
			d.EIP712Name = DefaultEIP712Name
		}
		if d.EIP712Version == "" {
			d.EIP712Version = DefaultEIP712Version
		}

	case strings.HasPrefix(nc.Network, "solana:"):
		if strings.TrimPrefix(nc.Network, "solana:") == "" {
			return nil, fmt.Errorf("missing cluster reference")
		}
		d.Family = FamilySolana
		d.Network = nc.Network

	default:
		return nil, fmt.Errorf("unsupported network namespace")
	}

	return d, nil
}

// parseEVMReference accepts only a nonempty, nonnegative base-10 integer.
func parseEVMReference(ref string) (uint64, error) {
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid eip155 reference %q", ref)
	}
	return id, nil
}

// Resolve maps a CAIP-2 identifier to its enabled descriptor. EVM
// identifiers must match eip155:<decimal> exactly and are compared by
// integer chain id; Solana identifiers are compared by exact string
// equality. Everything else, including bare numeric ids and legacy aliases,
// resolves to ErrUnknownNetwork.
func (r *Registry) Resolve(networkID string) (*Descriptor, error) {
	switch {
	case strings.HasPrefix(networkID, "eip155:"):
		chainID, err := parseEVMReference(strings.TrimPrefix(networkID, "eip155:"))
		if err != nil {
			return nil, ErrUnknownNetwork
		}
		if d, ok := r.evmChains[chainID]; ok {
			return d, nil
		}
		return nil, ErrUnknownNetwork

	case strings.HasPrefix(networkID, "solana:"):
		if d, ok := r.descriptors[networkID]; ok {
			return d, nil
		}
		return nil, ErrUnknownNetwork

	default:
		return nil, ErrUnknownNetwork
	}
}

// List returns the enabled descriptors in declaration order. The order is
// not contractual but stays stable for the process lifetime.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}
