// Package types defines the wire-level data model of the x402 "exact"
// payment scheme: payloads, requirements, results, and the rejection
// taxonomy shared by verification and settlement.
package types

import "encoding/json"

// Protocol constants.
const (
	// ProtocolVersion is the x402 protocol major version this library speaks.
	ProtocolVersion = 1

	// SchemeExact is the only payment scheme the facilitator implements.
	SchemeExact = "exact"

	// PayerUnknown is reported when a payer identity cannot be established,
	// for example when the authorization object fails to decode.
	PayerUnknown = "unknown"
)

// PaymentPayload is the client-constructed payment envelope. The payload
// field carries a chain-family-specific authorization object; its shape is
// decided by the network the payment targets, never by inspecting the bytes.
type PaymentPayload struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// URI of the resource being paid for.
	Resource string `json:"resource,omitempty"`

	// Scheme and CAIP-2 network the client is paying on.
	Accepted AcceptedPayment `json:"accepted"`

	// Chain-family-specific authorization, decoded per the resolved network.
	Payload json.RawMessage `json:"payload"`
}

// AcceptedPayment names the scheme and network of a payment. The network is
// the sole routing key for both verification and settlement.
type AcceptedPayment struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// ExactEVMPayload carries an ERC-2612 permit authorization signed off-chain
// by the payer.
type ExactEVMPayload struct {
	// 65-byte compact ECDSA signature, hex encoded (r || s || v).
	Signature string `json:"signature" validate:"required"`

	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization is the permit message body. All numeric fields are
// decimal strings; value is uint256 in the asset's smallest units.
type EVMAuthorization struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	Value       string `json:"value" validate:"required"`
	ValidAfter  string `json:"validAfter" validate:"required"`
	ValidBefore string `json:"validBefore" validate:"required"`
	Nonce       string `json:"nonce" validate:"required"`
}

// ExactSolanaPayload carries an Ed25519-signed delegated-transfer intent.
// Amount is an SPL u64 as a decimal string; the signature is detached,
// base58 encoded, over the canonical intent message.
type ExactSolanaPayload struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Nonce     string `json:"nonce" validate:"required"`
	Deadline  string `json:"deadline" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// PaymentRequirements declares what a resource server accepts as payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol, "exact" for this facilitator.
	Scheme string `json:"scheme"`

	// CAIP-2 network the payment must settle on.
	Network string `json:"network"`

	// Required amount in smallest units of the asset, as a decimal string.
	Amount string `json:"amount" validate:"required"`

	// ERC-20 contract address or SPL mint of the settlement asset.
	Asset string `json:"asset" validate:"required"`

	// Address the payment must be delivered to. Authoritative for where
	// funds land; nothing in the payload overrides it.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds the caller is willing to wait for settlement.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// Scheme-specific hints.
	Extra *RequirementsExtra `json:"extra,omitempty"`
}

// RequirementsExtra carries optional scheme-specific parameters.
type RequirementsExtra struct {
	// AssetTransferMethod selects the settlement mechanism when an asset
	// supports more than one; the exact scheme currently settles permits
	// on EVM and delegated transfers on Solana regardless.
	AssetTransferMethod string `json:"assetTransferMethod,omitempty"`

	// Name and Version override the EIP-712 domain of the settlement asset.
	// They must byte-for-byte match the deployed contract's own domain or
	// signature recovery fails.
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	// GasLimit overrides the per-transaction gas limit of EVM settlement.
	GasLimit uint64 `json:"gasLimit,omitempty"`
}

// VerificationResult is the outcome of the verification pipeline.
type VerificationResult struct {
	IsValid bool `json:"isValid"`

	// Payer is the authenticated payer address, or "unknown" when the
	// authorization could not be decoded.
	Payer string `json:"payer"`

	// InvalidReason is the human-readable rejection, empty when valid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Rejection carries the structured refusal for logs and metrics.
	// It never serializes; invalidReason is the wire-visible text.
	Rejection *Rejection `json:"-"`
}

// SettlementResult is the outcome of a settlement attempt.
type SettlementResult struct {
	Success bool `json:"success"`

	Payer string `json:"payer"`

	// Transaction is the settled transaction id, empty on failure. For the
	// EVM path this is the transferFrom hash, not the permit hash.
	Transaction string `json:"transaction"`

	// Network echoes the CAIP-2 identifier the settlement ran on.
	Network string `json:"network"`

	ErrorReason string `json:"errorReason,omitempty"`

	// Rejection mirrors VerificationResult.Rejection.
	Rejection *Rejection `json:"-"`
}

// VerifyRequest is the wire envelope a consuming layer submits for
// verification.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the wire envelope a consuming layer submits for
// settlement.
type SettleRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// SupportedKind describes one payment kind the facilitator accepts.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the capability-discovery document. Signers maps a
// chain-family wildcard ("eip155:*", "solana:*") to the facilitator
// addresses configured in that family.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}
