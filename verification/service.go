// Package verification implements the off-chain side of the exact payment
// scheme: it classifies a payment authorization as acceptable or not without
// ever mutating chain state. The pipeline runs its checks from cheapest to
// most expensive and stops at the first failure; the single on-chain read,
// the payer's balance, always comes last.
package verification

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/types"
)

// BalanceReader is the one on-chain query verification is allowed to make:
// the payer's settlement-asset balance in smallest units.
type BalanceReader interface {
	Balance(ctx context.Context, owner string) (*big.Int, error)
}

// Service runs the verification pipeline for every enabled network. All
// outcomes, including infrastructure failures, come back inside the
// VerificationResult; Verify never returns an error and never panics on
// attacker-controlled payload contents.
type Service struct {
	registry *registry.Registry
	balances map[string]BalanceReader
	timeout  time.Duration
	now      func() time.Time
	log      logger.Logger
}

// NewService builds a verification service over the given network registry.
// Balance readers are attached per network with AddBalanceReader.
func NewService(reg *registry.Registry, timeout time.Duration, log logger.Logger) *Service {
	return &Service{
		registry: reg,
		balances: make(map[string]BalanceReader),
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides the pipeline's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AddBalanceReader registers the balance source for an enabled network. The
// identifier may be any alias the registry resolves; readers are stored
// under the canonical network id.
func (s *Service) AddBalanceReader(network string, r BalanceReader) error {
	desc, err := s.registry.Resolve(network)
	if err != nil {
		return fmt.Errorf("cannot add balance reader for %q: %w", network, err)
	}
	s.balances[desc.Network] = r
	return nil
}

// Verify classifies a payment authorization against the requirements. The
// caller is responsible for top-level shape validation; everything beyond
// that, including malformed payload bytes, is classified here rather than
// returned as an error.
func (s *Service) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if payload.Accepted.Scheme != types.SchemeExact {
		return invalid(types.PayerUnknown, types.UnsupportedScheme(payload.Accepted.Scheme))
	}
	if requirements.Scheme != types.SchemeExact {
		return invalid(types.PayerUnknown, types.UnsupportedScheme(requirements.Scheme))
	}

	desc, err := s.registry.Resolve(payload.Accepted.Network)
	if err != nil {
		return invalid(types.PayerUnknown, types.UnknownNetwork(payload.Accepted.Network))
	}
	required, err := s.registry.Resolve(requirements.Network)
	if err != nil {
		return invalid(types.PayerUnknown, types.UnknownNetwork(requirements.Network))
	}
	if desc != required {
		return invalid(types.PayerUnknown, types.NetworkMismatch(payload.Accepted.Network, requirements.Network))
	}

	switch desc.Family {
	case registry.FamilyEVM:
		return s.verifyEVM(ctx, desc, payload, requirements)
	case registry.FamilySolana:
		return s.verifySolana(ctx, desc, payload, requirements)
	default:
		return invalid(types.PayerUnknown, types.InternalError(fmt.Errorf("unhandled chain family %q", desc.Family)))
	}
}

// BatchVerify runs independent verifications concurrently and returns the
// results in request order.
func (s *Service) BatchVerify(ctx context.Context, requests []*types.VerifyRequest) []*types.VerificationResult {
	results := make([]*types.VerificationResult, len(requests))

	type indexed struct {
		index  int
		result *types.VerificationResult
	}
	ch := make(chan indexed, len(requests))

	for i, req := range requests {
		go func(i int, req *types.VerifyRequest) {
			ch <- indexed{i, s.Verify(ctx, req.PaymentPayload, req.PaymentRequirements)}
		}(i, req)
	}
	for range requests {
		r := <-ch
		results[r.index] = r.result
	}

	return results
}

func (s *Service) verifyEVM(ctx context.Context, desc *registry.Descriptor, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult {
	decoded, err := types.DecodeExactEVMPayload(payload.Payload)
	if err != nil {
		return invalid(types.PayerUnknown, types.MissingAuthorization(err))
	}
	auth := decoded.Authorization
	payer := auth.From

	ok, err := verifyPermitSignature(desc, requirements, decoded)
	if err != nil {
		s.log.Debug("permit signature check failed", map[string]any{
			"network": desc.Network,
			"payer":   payer,
			"cause":   err.Error(),
		})
		return invalid(payer, types.InvalidSignature())
	}
	if !ok {
		return invalid(payer, types.InvalidSignature())
	}

	// Decode already proved these parse.
	now := big.NewInt(s.now().Unix())
	validAfter, _ := types.ParseUnixSeconds(auth.ValidAfter)
	validBefore, _ := types.ParseUnixSeconds(auth.ValidBefore)
	if validAfter.Sign() > 0 && now.Cmp(validAfter) <= 0 {
		return invalid(payer, types.NotYetValid(auth.ValidAfter))
	}
	if now.Cmp(validBefore) > 0 {
		return invalid(payer, types.Expired(auth.ValidBefore))
	}

	value, _ := types.ParseAmount(auth.Value)
	requiredAmount, err := types.ParseAmount(requirements.Amount)
	if err != nil {
		return invalid(payer, types.InternalError(fmt.Errorf("requirements amount: %w", err)))
	}
	if value.Cmp(requiredAmount) < 0 {
		return invalid(payer, types.InsufficientAmount(auth.Value, requirements.Amount))
	}

	// The permit names a spender, not a destination; the settlement
	// recipient comes from requirements.payTo alone, so there is no payload
	// recipient to cross-check on EVM.

	return s.checkBalance(ctx, desc, payer, value)
}

func (s *Service) verifySolana(ctx context.Context, desc *registry.Descriptor, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult {
	decoded, err := types.DecodeExactSolanaPayload(payload.Payload)
	if err != nil {
		return invalid(types.PayerUnknown, types.MissingAuthorization(err))
	}
	payer := decoded.From

	ok, err := verifyTransferIntent(decoded)
	if err != nil {
		s.log.Debug("transfer intent signature check failed", map[string]any{
			"network": desc.Network,
			"payer":   payer,
			"cause":   err.Error(),
		})
		return invalid(payer, types.InvalidSignature())
	}
	if !ok {
		return invalid(payer, types.InvalidSignature())
	}

	now := big.NewInt(s.now().Unix())
	deadline, _ := types.ParseUnixSeconds(decoded.Deadline)
	if now.Cmp(deadline) > 0 {
		return invalid(payer, types.Expired(decoded.Deadline))
	}

	amount, _ := types.ParseAmount(decoded.Amount)
	requiredAmount, err := types.ParseAmount(requirements.Amount)
	if err != nil {
		return invalid(payer, types.InternalError(fmt.Errorf("requirements amount: %w", err)))
	}
	if amount.Cmp(requiredAmount) < 0 {
		return invalid(payer, types.InsufficientAmount(decoded.Amount, requirements.Amount))
	}

	if decoded.To != requirements.PayTo {
		return invalid(payer, types.RecipientMismatch(decoded.To, requirements.PayTo))
	}

	return s.checkBalance(ctx, desc, payer, amount)
}

// checkBalance is the pipeline's only network call. A transport failure is
// an internal error, never an insufficient-balance rejection, so callers can
// tell "payer is broke" apart from "RPC is down".
func (s *Service) checkBalance(ctx context.Context, desc *registry.Descriptor, payer string, value *big.Int) *types.VerificationResult {
	reader, ok := s.balances[desc.Network]
	if !ok {
		return invalid(payer, types.InternalError(fmt.Errorf("no balance reader configured for %s", desc.Network)))
	}

	balance, err := reader.Balance(ctx, payer)
	if err != nil {
		s.log.Warn("balance read failed", map[string]any{
			"network": desc.Network,
			"payer":   payer,
			"cause":   err.Error(),
		})
		return invalid(payer, types.InternalError(fmt.Errorf("balance read: %w", err)))
	}

	if balance.Cmp(value) < 0 {
		return invalid(payer, types.InsufficientBalance(balance.String(), value.String()))
	}

	return &types.VerificationResult{IsValid: true, Payer: payer}
}

func invalid(payer string, rej *types.Rejection) *types.VerificationResult {
	return &types.VerificationResult{
		IsValid:       false,
		Payer:         payer,
		InvalidReason: rej.Message,
		Rejection:     rej,
	}
}
