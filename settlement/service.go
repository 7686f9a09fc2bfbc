// Package settlement executes verified payment authorizations on chain. It
// is the only component that spends facilitator funds (gas, fees), so every
// submission is bounded by a deadline and every partial failure is reported
// rather than retried.
package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/types"
)

// PermitCall carries the decomposed ERC-2612 permit the facilitator relays:
// the payer's signature split into v, r, s plus the signed parameters.
type PermitCall struct {
	Owner    string
	Spender  string
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// TransferFromCall moves value the permit unlocked.
type TransferFromCall struct {
	Owner string
	To    string
	Value *big.Int
}

// TxOpts pins the account nonce, gas price and gas limit of one submission.
// Settlement reserves nonces up front so the permit and the transferFrom
// never race other traffic from the same signer.
type TxOpts struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
}

// EVMChain is the transaction surface settlement needs from an EVM node.
// Submit methods return the transaction hash only after the transaction is
// mined with a success status.
type EVMChain interface {
	PendingNonce(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SubmitPermit(ctx context.Context, call PermitCall, opts TxOpts) (string, error)
	SubmitTransferFrom(ctx context.Context, call TransferFromCall, opts TxOpts) (string, error)
}

// DelegationState is the payer's standing SPL token approval. An empty
// Delegate means no delegation exists.
type DelegationState struct {
	Delegate string
	Amount   uint64
}

// SolanaChain is the transaction surface settlement needs from a Solana
// node. SubmitDelegatedTransfer returns the signature once the transaction
// reaches confirmed commitment.
type SolanaChain interface {
	Delegation(ctx context.Context, owner string) (DelegationState, error)
	SubmitDelegatedTransfer(ctx context.Context, from, to string, amount uint64) (string, error)
}

// Service settles payments on every enabled network. Like verification, all
// outcomes come back inside the SettlementResult; a settlement that fails on
// chain is a result, not an error.
type Service struct {
	registry *registry.Registry
	evm      map[string]EVMChain
	solana   map[string]SolanaChain
	timeout  time.Duration
	simulate bool
	log      logger.Logger
}

// NewService builds a settlement service over the given network registry.
// With simulate set, no chain is ever written to: submissions short-circuit
// into fabricated transaction ids after the payload decodes.
func NewService(reg *registry.Registry, timeout time.Duration, simulate bool, log logger.Logger) *Service {
	return &Service{
		registry: reg,
		evm:      make(map[string]EVMChain),
		solana:   make(map[string]SolanaChain),
		timeout:  timeout,
		simulate: simulate,
		log:      log,
	}
}

// AddEVMChain registers the transaction backend for an enabled EVM network.
func (s *Service) AddEVMChain(network string, c EVMChain) error {
	desc, err := s.registry.Resolve(network)
	if err != nil {
		return fmt.Errorf("cannot add EVM chain for %q: %w", network, err)
	}
	if desc.Family != registry.FamilyEVM {
		return fmt.Errorf("network %s is not an EVM network", desc.Network)
	}
	s.evm[desc.Network] = c
	return nil
}

// AddSolanaChain registers the transaction backend for an enabled Solana
// network.
func (s *Service) AddSolanaChain(network string, c SolanaChain) error {
	desc, err := s.registry.Resolve(network)
	if err != nil {
		return fmt.Errorf("cannot add Solana chain for %q: %w", network, err)
	}
	if desc.Family != registry.FamilySolana {
		return fmt.Errorf("network %s is not a Solana network", desc.Network)
	}
	s.solana[desc.Network] = c
	return nil
}

// Settle executes a payment authorization on chain. The call is bounded by
// the service timeout or the requirements' maxTimeoutSeconds, whichever is
// tighter.
func (s *Service) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.SettlementResult {
	timeout := s.timeout
	if requirements.MaxTimeoutSeconds > 0 {
		if d := time.Duration(requirements.MaxTimeoutSeconds) * time.Second; d < timeout {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if payload.Accepted.Scheme != types.SchemeExact {
		return failure(payload.Accepted.Network, types.PayerUnknown, types.UnsupportedScheme(payload.Accepted.Scheme))
	}
	if requirements.Scheme != types.SchemeExact {
		return failure(payload.Accepted.Network, types.PayerUnknown, types.UnsupportedScheme(requirements.Scheme))
	}

	desc, err := s.registry.Resolve(payload.Accepted.Network)
	if err != nil {
		return failure(payload.Accepted.Network, types.PayerUnknown, types.UnknownNetwork(payload.Accepted.Network))
	}
	required, err := s.registry.Resolve(requirements.Network)
	if err != nil {
		return failure(desc.Network, types.PayerUnknown, types.UnknownNetwork(requirements.Network))
	}
	if desc != required {
		return failure(desc.Network, types.PayerUnknown, types.NetworkMismatch(payload.Accepted.Network, requirements.Network))
	}

	switch desc.Family {
	case registry.FamilyEVM:
		return s.settleEVM(ctx, desc, payload, requirements)
	case registry.FamilySolana:
		return s.settleSolana(ctx, desc, payload, requirements)
	default:
		return failure(desc.Network, types.PayerUnknown, types.InternalError(fmt.Errorf("unhandled chain family %q", desc.Family)))
	}
}

// BatchSettle runs independent settlements concurrently and returns the
// results in request order.
func (s *Service) BatchSettle(ctx context.Context, requests []*types.SettleRequest) []*types.SettlementResult {
	results := make([]*types.SettlementResult, len(requests))

	type indexed struct {
		index  int
		result *types.SettlementResult
	}
	ch := make(chan indexed, len(requests))

	for i, req := range requests {
		go func(i int, req *types.SettleRequest) {
			ch <- indexed{i, s.Settle(ctx, req.PaymentPayload, req.PaymentRequirements)}
		}(i, req)
	}
	for range requests {
		r := <-ch
		results[r.index] = r.result
	}

	return results
}

func (s *Service) settleEVM(ctx context.Context, desc *registry.Descriptor, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.SettlementResult {
	decoded, err := types.DecodeExactEVMPayload(payload.Payload)
	if err != nil {
		return failure(desc.Network, types.PayerUnknown, types.MissingAuthorization(err))
	}
	auth := decoded.Authorization
	payer := auth.From

	if s.simulate {
		return s.simulated(desc, payer, simulatedEVMTxID())
	}

	chain, ok := s.evm[desc.Network]
	if !ok {
		return failure(desc.Network, payer, types.InternalError(fmt.Errorf("no chain backend configured for %s", desc.Network)))
	}

	v, r, sv, err := splitPermitSignature(decoded.Signature)
	if err != nil {
		return failure(desc.Network, payer, types.InvalidSignature())
	}

	// Decode already proved these parse.
	value, _ := types.ParseAmount(auth.Value)
	deadline, _ := types.ParseUnixSeconds(auth.ValidBefore)

	nonce, err := chain.PendingNonce(ctx)
	if err != nil {
		return failure(desc.Network, payer, types.InternalError(fmt.Errorf("pending nonce: %w", err)))
	}
	gasPrice, err := chain.SuggestGasPrice(ctx)
	if err != nil {
		return failure(desc.Network, payer, types.InternalError(fmt.Errorf("gas price: %w", err)))
	}

	permitGas, transferGas := uint64(defaultPermitGasLimit), uint64(defaultTransferGasLimit)
	if x := requirements.Extra; x != nil && x.GasLimit > 0 {
		permitGas, transferGas = x.GasLimit, x.GasLimit
	}

	permitTx, err := chain.SubmitPermit(ctx, PermitCall{
		Owner:    auth.From,
		Spender:  auth.To,
		Value:    value,
		Deadline: deadline,
		V:        v,
		R:        r,
		S:        sv,
	}, TxOpts{Nonce: nonce, GasPrice: gasPrice, GasLimit: permitGas})
	if err != nil {
		s.log.Warn("permit rejected", map[string]any{
			"network": desc.Network,
			"payer":   payer,
			"cause":   err.Error(),
		})
		return failure(desc.Network, payer, types.SettlementFailed(fmt.Sprintf("permit rejected: %v", err)))
	}

	transferTx, err := chain.SubmitTransferFrom(ctx, TransferFromCall{
		Owner: auth.From,
		To:    requirements.PayTo,
		Value: value,
	}, TxOpts{Nonce: nonce + 1, GasPrice: gasPrice, GasLimit: transferGas})
	if err != nil {
		// The permit landed but the transfer did not. Funds have not moved;
		// the payer's allowance is simply left standing. Surface the
		// failure instead of retrying.
		s.log.Error("transferFrom rejected after permit", map[string]any{
			"network":   desc.Network,
			"payer":     payer,
			"permit_tx": permitTx,
			"cause":     err.Error(),
		})
		return failure(desc.Network, payer, types.SettlementFailed(fmt.Sprintf("transferFrom rejected after permit %s: %v", permitTx, err)))
	}

	s.log.Info("settlement confirmed", map[string]any{
		"network":     desc.Network,
		"payer":       payer,
		"pay_to":      requirements.PayTo,
		"amount":      types.FormatAmount(value, desc.AssetDecimals),
		"permit_tx":   permitTx,
		"transfer_tx": transferTx,
	})

	return &types.SettlementResult{
		Success:     true,
		Payer:       payer,
		Transaction: transferTx,
		Network:     desc.Network,
	}
}

func (s *Service) settleSolana(ctx context.Context, desc *registry.Descriptor, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.SettlementResult {
	decoded, err := types.DecodeExactSolanaPayload(payload.Payload)
	if err != nil {
		return failure(desc.Network, types.PayerUnknown, types.MissingAuthorization(err))
	}
	payer := decoded.From

	if s.simulate {
		return s.simulated(desc, payer, simulatedSolanaTxID())
	}

	chain, ok := s.solana[desc.Network]
	if !ok {
		return failure(desc.Network, payer, types.InternalError(fmt.Errorf("no chain backend configured for %s", desc.Network)))
	}

	// Decode already proved the amount fits u64.
	parsed, _ := types.ParseAmount(decoded.Amount)
	amount := parsed.Uint64()

	delegation, err := chain.Delegation(ctx, payer)
	if err != nil {
		return failure(desc.Network, payer, types.InternalError(fmt.Errorf("delegation lookup: %w", err)))
	}
	if delegation.Delegate == "" {
		return failure(desc.Network, payer, types.SettlementFailed("payer has no delegation approved for the facilitator"))
	}
	if delegation.Delegate != desc.SignerAddress {
		return failure(desc.Network, payer, types.SettlementFailed(fmt.Sprintf("delegation approves %s, not the facilitator", delegation.Delegate)))
	}
	if delegation.Amount < amount {
		return failure(desc.Network, payer, types.SettlementFailed(fmt.Sprintf("delegated amount %d below payment amount %d", delegation.Amount, amount)))
	}

	// The destination is the requirements' payTo, which verification already
	// matched against the signed intent.
	tx, err := chain.SubmitDelegatedTransfer(ctx, payer, requirements.PayTo, amount)
	if err != nil {
		s.log.Warn("delegated transfer rejected", map[string]any{
			"network": desc.Network,
			"payer":   payer,
			"cause":   err.Error(),
		})
		return failure(desc.Network, payer, types.SettlementFailed(fmt.Sprintf("transfer rejected: %v", err)))
	}

	s.log.Info("settlement confirmed", map[string]any{
		"network": desc.Network,
		"payer":   payer,
		"pay_to":  requirements.PayTo,
		"amount":  types.FormatAmount(parsed, desc.AssetDecimals),
		"tx":      tx,
	})

	return &types.SettlementResult{
		Success:     true,
		Payer:       payer,
		Transaction: tx,
		Network:     desc.Network,
	}
}

func (s *Service) simulated(desc *registry.Descriptor, payer, txID string) *types.SettlementResult {
	s.log.Info("settlement simulated", map[string]any{
		"network": desc.Network,
		"payer":   payer,
		"tx":      txID,
	})
	return &types.SettlementResult{
		Success:     true,
		Payer:       payer,
		Transaction: txID,
		Network:     desc.Network,
	}
}

// Gas limits when the requirements carry no override. Permit and
// transferFrom on mainstream ERC-20s stay well under these.
const (
	defaultPermitGasLimit   = 100_000
	defaultTransferGasLimit = 120_000
)

// splitPermitSignature decomposes a 65-byte r||s||v signature for the
// on-chain permit call, which wants v in 27/28 form.
func splitPermitSignature(sig string) (v uint8, r, s [32]byte, err error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 65 {
		return 0, r, s, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}

	copy(r[:], raw[0:32])
	copy(s[:], raw[32:64])
	v = raw[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

func simulatedEVMTxID() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return "0x" + hex.EncodeToString(b[:])
}

func simulatedSolanaTxID() string {
	var b [64]byte
	_, _ = rand.Read(b[:])
	return solana.SignatureFromBytes(b[:]).String()
}

func failure(network, payer string, rej *types.Rejection) *types.SettlementResult {
	return &types.SettlementResult{
		Success:     false,
		Payer:       payer,
		Transaction: "",
		Network:     network,
		ErrorReason: rej.Message,
		Rejection:   rej,
	}
}
