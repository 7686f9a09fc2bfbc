package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeExactEVMPayload decodes and normalizes the EVM authorization object.
// Beyond shape, it proves every numeric field is a well-formed decimal
// integer so downstream steps can parse without failing.
func DecodeExactEVMPayload(raw json.RawMessage) (*ExactEVMPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	var p ExactEVMPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("incomplete authorization: %w", err)
	}

	if _, err := ParseAmount(p.Authorization.Value); err != nil {
		return nil, fmt.Errorf("authorization.value: %w", err)
	}
	if _, err := ParseUnixSeconds(p.Authorization.ValidAfter); err != nil {
		return nil, fmt.Errorf("authorization.validAfter: %w", err)
	}
	if _, err := ParseUnixSeconds(p.Authorization.ValidBefore); err != nil {
		return nil, fmt.Errorf("authorization.validBefore: %w", err)
	}
	if _, err := ParseAmount(p.Authorization.Nonce); err != nil {
		return nil, fmt.Errorf("authorization.nonce: %w", err)
	}

	return &p, nil
}

// DecodeExactSolanaPayload decodes and normalizes the Solana transfer
// intent. The amount must fit an SPL u64.
func DecodeExactSolanaPayload(raw json.RawMessage) (*ExactSolanaPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	var p ExactSolanaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("incomplete authorization: %w", err)
	}

	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if !amount.IsUint64() {
		return nil, fmt.Errorf("amount %s exceeds the SPL u64 range", p.Amount)
	}
	if _, err := ParseUnixSeconds(p.Deadline); err != nil {
		return nil, fmt.Errorf("deadline: %w", err)
	}

	return &p, nil
}

// Validate checks the structural validity of a payment payload before any
// business classification happens. Scheme, network, and the authorization
// object are deliberately not checked here; the verification pipeline owns
// their classification.
func (p *PaymentPayload) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	return nil
}

// Validate checks the caller-authored fields of payment requirements.
// Malformed requirements are a caller bug, not a payment rejection, so this
// surfaces as an error rather than a classified result.
func (r *PaymentRequirements) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid payment requirements: %w", err)
	}
	if _, err := ParseAmount(r.Amount); err != nil {
		return fmt.Errorf("paymentRequirements.amount: %w", err)
	}
	return nil
}

// Validate checks a verify request envelope.
func (v *VerifyRequest) Validate() error {
	if v.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if v.PaymentPayload == nil {
		return fmt.Errorf("paymentPayload is required")
	}
	if v.PaymentRequirements == nil {
		return fmt.Errorf("paymentRequirements is required")
	}
	if err := v.PaymentPayload.Validate(); err != nil {
		return err
	}
	return v.PaymentRequirements.Validate()
}

// Validate checks a settle request envelope.
func (s *SettleRequest) Validate() error {
	if s.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if s.PaymentPayload == nil {
		return fmt.Errorf("paymentPayload is required")
	}
	if s.PaymentRequirements == nil {
		return fmt.Errorf("paymentRequirements is required")
	}
	if err := s.PaymentPayload.Validate(); err != nil {
		return err
	}
	return s.PaymentRequirements.Validate()
}
