package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/types"
)

const (
	testEVMKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testEVMAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	testSolanaKey     = "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv7KrQk7h6pu4LF8ZRR9yQBhc7uSM6RTTZtU1fmaxiNrxXrs"
	testSolanaAddress = "QqCCvshxtqMAL2CVALqiJB7uEeE5mjSPsseQdDzsRUo"
)

func testConfig() *types.Config {
	return &types.Config{
		Networks: []types.NetworkConfig{
			{
				Network:       NetworkBaseSepolia,
				RPCURL:        "https://sepolia.base.org",
				Asset:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				AssetDecimals: 6,
				SignerKey:     testEVMKey,
				SignerAddress: testEVMAddress,
			},
			{
				Network:       NetworkSolanaDevnet,
				RPCURL:        "https://api.devnet.solana.com",
				Asset:         "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
				AssetDecimals: 6,
				SignerKey:     testSolanaKey,
				SignerAddress: testSolanaAddress,
			},
		},
	}
}

func TestResolveEVM(t *testing.T) {
	reg, err := New(testConfig(), logger.NoopLogger{})
	require.NoError(t, err)

	d, err := reg.Resolve("eip155:84532")
	require.NoError(t, err)
	assert.Equal(t, FamilyEVM, d.Family)
	assert.Equal(t, uint64(84532), d.ChainID.Uint64())
	assert.Equal(t, "eip155:84532", d.Network)
}

func TestResolveEVMLeadingZeros(t *testing.T) {
	reg, err := New(testConfig(), logger.NoopLogger{})
	require.NoError(t, err)

	// Chain ids compare as integers, so a zero-padded reference still hits.
	d, err := reg.Resolve("eip155:0084532")
	require.NoError(t, err)
	assert.Equal(t, "eip155:84532", d.Network)
}

func TestResolveRejectsMalformedIdentifiers(t *testing.T) {
	reg, err := New(testConfig(), logger.NoopLogger{})
	require.NoError(t, err)

	cases := []string{
		"84532",        // bare chain id, no namespace
		"eip155:",      // empty reference
		"eip155:abc",   // non-numeric reference
		"eip155:-1",    // negative reference
		"base",         // legacy alias
		"base-sepolia", // legacy alias
		"",             // empty
		"eip155:999999",
		"solana:",
		"solana:unknownclusterhash",
	}

	for _, id := range cases {
		_, err := reg.Resolve(id)
		assert.ErrorIs(t, err, ErrUnknownNetwork, "identifier %q must not resolve", id)
	}
}

func TestResolveSolanaExactMatch(t *testing.T) {
	reg, err := New(testConfig(), logger.NoopLogger{})
	require.NoError(t, err)

	d, err := reg.Resolve(NetworkSolanaDevnet)
	require.NoError(t, err)
	assert.Equal(t, FamilySolana, d.Family)
	assert.Nil(t, d.ChainID)

	// Mainnet is not configured; exact string equality, no cluster guessing.
	_, err = reg.Resolve(NetworkSolanaMainnet)
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestDisabledNetworksAreInvisible(t *testing.T) {
	cfg := testConfig()
	cfg.Networks = append(cfg.Networks, types.NetworkConfig{
		Network: NetworkBase,
		RPCURL:  "https://mainnet.base.org",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		// no SignerKey/SignerAddress: stays disabled
	})

	reg, err := New(cfg, logger.NoopLogger{})
	require.NoError(t, err)

	_, err = reg.Resolve(NetworkBase)
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	assert.Len(t, reg.List(), 2)
}

func TestListPreservesDeclarationOrder(t *testing.T) {
	reg, err := New(testConfig(), logger.NoopLogger{})
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "eip155:84532", list[0].Network)
	assert.Equal(t, NetworkSolanaDevnet, list[1].Network)

	// Stable across calls.
	again := reg.List()
	for i := range list {
		assert.Same(t, list[i], again[i])
	}
}

func TestEIP712DomainDefaults(t *testing.T) {
	cfg := testConfig()
	reg, err := New(cfg, logger.NoopLogger{})
	require.NoError(t, err)

	d, err := reg.Resolve(NetworkBaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, DefaultEIP712Name, d.EIP712Name)
	assert.Equal(t, DefaultEIP712Version, d.EIP712Version)

	cfg.Networks[0].EIP712Name = "Test Token"
	cfg.Networks[0].EIP712Version = "1"
	reg, err = New(cfg, logger.NoopLogger{})
	require.NoError(t, err)
	d, err = reg.Resolve(NetworkBaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, "Test Token", d.EIP712Name)
	assert.Equal(t, "1", d.EIP712Version)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Networks[0].Network = "eip155:notanumber"
	_, err := New(cfg, logger.NoopLogger{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Networks[0].Network = "cosmos:cosmoshub-4"
	_, err = New(cfg, logger.NoopLogger{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Networks = append(cfg.Networks, cfg.Networks[0])
	_, err = New(cfg, logger.NoopLogger{})
	assert.Error(t, err)
}
