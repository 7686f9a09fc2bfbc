package verification

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/types"
)

// permitDomain resolves the EIP-712 domain the payer must have signed
// against. Requirements may override the descriptor's name and version; the
// verifying contract is always the settlement asset. The result must
// byte-for-byte match the deployed contract's own domain or recovery yields
// a stranger's address.
func permitDomain(desc *registry.Descriptor, requirements *types.PaymentRequirements) apitypes.TypedDataDomain {
	name, version := desc.EIP712Name, desc.EIP712Version
	if x := requirements.Extra; x != nil {
		if x.Name != "" {
			name = x.Name
		}
		if x.Version != "" {
			version = x.Version
		}
	}

	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(desc.ChainID)),
		VerifyingContract: requirements.Asset,
	}
}

// permitTypedData builds the ERC-2612 Permit message: owner is the payer,
// spender the account the payer authorizes, deadline the authorization's
// validBefore.
func permitTypedData(domain apitypes.TypedDataDomain, auth types.EVMAuthorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"owner":    auth.From,
			"spender":  auth.To,
			"value":    auth.Value,
			"nonce":    auth.Nonce,
			"deadline": auth.ValidBefore,
		},
	}
}

// verifyPermitSignature recovers the permit signer and compares it to the
// claimed payer. A false return with nil error means the signature is
// well-formed but signed by someone else or over different data.
func verifyPermitSignature(desc *registry.Descriptor, requirements *types.PaymentRequirements, payload *types.ExactEVMPayload) (bool, error) {
	td := permitTypedData(permitDomain(desc, requirements), payload.Authorization)

	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return false, fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := decodeCompactSignature(payload.Signature)
	if err != nil {
		return false, err
	}
	// SigToPub wants the recovery id as 0/1; wallets emit 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("recover public key: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)

	return recovered == common.HexToAddress(payload.Authorization.From), nil
}

// decodeCompactSignature decodes a hex r||s||v signature and enforces the
// 65-byte compact length.
func decodeCompactSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	return raw, nil
}
