package types

import (
	"fmt"
	"time"
)

// NetworkConfig declares one settlement network. A network is enabled only
// when both the signing credential and the facilitator address are set;
// anything else leaves the entry invisible to the registry.
type NetworkConfig struct {
	// CAIP-2 identifier, e.g. "eip155:84532" or
	// "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1".
	Network string `json:"network"`

	// RPC endpoint of the chain node.
	RPCURL string `json:"rpcUrl"`

	// ERC-20 contract address or SPL mint of the settlement asset.
	Asset string `json:"asset"`

	// Decimal precision of the asset, for display formatting only.
	AssetDecimals int `json:"assetDecimals"`

	// EIP-712 domain of the asset contract (EVM only). Empty values fall
	// back to the scheme defaults.
	EIP712Name    string `json:"eip712Name,omitempty"`
	EIP712Version string `json:"eip712Version,omitempty"`

	// Facilitator signing credential: hex ECDSA key for EVM, base58
	// Ed25519 key for Solana.
	SignerKey string `json:"signerKey,omitempty"`

	// Facilitator public address in the chain's native encoding.
	SignerAddress string `json:"signerAddress,omitempty"`
}

// Enabled reports whether the entry carries everything needed to sign
// settlements.
func (c *NetworkConfig) Enabled() bool {
	return c.SignerKey != "" && c.SignerAddress != ""
}

// Config is the facilitator's startup configuration. It is constructed once
// by the caller and injected; no component reads process environment state.
type Config struct {
	// Networks lists the candidate settlement networks in the order they
	// should be advertised.
	Networks []NetworkConfig `json:"networks"`

	// DefaultTimeout bounds each verify/settle call; zero selects the
	// library default.
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`

	// SimulateSettlement disables on-chain writes: settlement fabricates a
	// plausible transaction id and reports success. Verification still
	// reads real chain state. This is a deployment switch, never an error
	// fallback.
	SimulateSettlement bool `json:"simulateSettlement,omitempty"`

	// LogLevel configures the default logger when the caller does not
	// inject one.
	LogLevel string `json:"logLevel,omitempty"`
}

// Validate checks the configuration before any component is built.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("defaultTimeout cannot be negative")
	}

	for i := range c.Networks {
		nc := &c.Networks[i]
		if nc.Network == "" {
			return fmt.Errorf("networks[%d]: network identifier is required", i)
		}
		if nc.AssetDecimals < 0 {
			return fmt.Errorf("networks[%d] (%s): assetDecimals cannot be negative", i, nc.Network)
		}
		if !nc.Enabled() {
			continue
		}
		if nc.RPCURL == "" {
			return fmt.Errorf("networks[%d] (%s): rpcUrl is required", i, nc.Network)
		}
		if nc.Asset == "" {
			return fmt.Errorf("networks[%d] (%s): asset is required", i, nc.Network)
		}
	}

	return nil
}
