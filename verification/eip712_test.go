package verification

import (
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/types"
)

const (
	testAsset   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testPayTo   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testSpender = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testDescriptor() *registry.Descriptor {
	return &registry.Descriptor{
		Network:       registry.NetworkBaseSepolia,
		Family:        registry.FamilyEVM,
		ChainID:       big.NewInt(84532),
		Asset:         testAsset,
		AssetDecimals: 6,
		EIP712Name:    registry.DefaultEIP712Name,
		EIP712Version: registry.DefaultEIP712Version,
	}
}

func testRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           registry.NetworkBaseSepolia,
		Amount:            "10000",
		Asset:             testAsset,
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 60,
	}
}

func testAuthorization(from string) types.EVMAuthorization {
	return types.EVMAuthorization{
		From:        from,
		To:          testSpender,
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "1700000600",
		Nonce:       "1",
	}
}

// signPermit signs the same ERC-2612 digest the verifier reconstructs, in
// wallet form (v = 27/28).
func signPermit(t *testing.T, key *ecdsa.PrivateKey, desc *registry.Descriptor, requirements *types.PaymentRequirements, auth types.EVMAuthorization) string {
	t.Helper()

	digest, _, err := apitypes.TypedDataAndHash(permitTypedData(permitDomain(desc, requirements), auth))
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27

	return hexutil.Encode(sig)
}

func TestVerifyPermitSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	desc := testDescriptor()
	requirements := testRequirements()
	auth := testAuthorization(crypto.PubkeyToAddress(key.PublicKey).Hex())

	payload := &types.ExactEVMPayload{
		Signature:     signPermit(t, key, desc, requirements, auth),
		Authorization: auth,
	}

	ok, err := verifyPermitSignature(desc, requirements, payload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPermitSignatureAcceptsRawRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	desc := testDescriptor()
	requirements := testRequirements()
	auth := testAuthorization(crypto.PubkeyToAddress(key.PublicKey).Hex())

	digest, _, err := apitypes.TypedDataAndHash(permitTypedData(permitDomain(desc, requirements), auth))
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	// v left at 0/1, the way crypto.Sign emits it.

	payload := &types.ExactEVMPayload{
		Signature:     hexutil.Encode(sig),
		Authorization: auth,
	}

	ok, err := verifyPermitSignature(desc, requirements, payload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPermitSignatureRejectsTamperedValue(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	desc := testDescriptor()
	requirements := testRequirements()
	auth := testAuthorization(crypto.PubkeyToAddress(key.PublicKey).Hex())
	sig := signPermit(t, key, desc, requirements, auth)

	auth.Value = "999999"
	payload := &types.ExactEVMPayload{Signature: sig, Authorization: auth}

	ok, err := verifyPermitSignature(desc, requirements, payload)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPermitSignatureRejectsForeignSigner(t *testing.T) {
	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	desc := testDescriptor()
	requirements := testRequirements()
	auth := testAuthorization(crypto.PubkeyToAddress(payerKey.PublicKey).Hex())

	payload := &types.ExactEVMPayload{
		Signature:     signPermit(t, otherKey, desc, requirements, auth),
		Authorization: auth,
	}

	ok, err := verifyPermitSignature(desc, requirements, payload)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPermitSignatureDomainOverride(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	desc := testDescriptor()
	auth := testAuthorization(crypto.PubkeyToAddress(key.PublicKey).Hex())

	overridden := testRequirements()
	overridden.Extra = &types.RequirementsExtra{Name: "Bridged USDC", Version: "1"}

	// Signed against the overridden domain: verifies there, not against the
	// defaults.
	payload := &types.ExactEVMPayload{
		Signature:     signPermit(t, key, desc, overridden, auth),
		Authorization: auth,
	}

	ok, err := verifyPermitSignature(desc, overridden, payload)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPermitSignature(desc, testRequirements(), payload)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeCompactSignature(t *testing.T) {
	raw, err := decodeCompactSignature("0x" + strings.Repeat("11", 65))
	require.NoError(t, err)
	assert.Len(t, raw, 65)

	// The 0x prefix is optional.
	raw, err = decodeCompactSignature(strings.Repeat("22", 65))
	require.NoError(t, err)
	assert.Len(t, raw, 65)

	_, err = decodeCompactSignature("0x1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "65 bytes")

	_, err = decodeCompactSignature("0xzz")
	require.Error(t, err)
}
