// Package facilitator implements the x402 "exact" payment scheme as an
// embeddable library: off-chain verification of signed payment
// authorizations and on-chain settlement over EVM and Solana networks. The
// facilitator is non-custodial; it never holds payer funds, it only relays
// authorizations the payer already signed.
package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/x402kit/facilitator/clients"
	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/metrics"
	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/settlement"
	"github.com/x402kit/facilitator/types"
	"github.com/x402kit/facilitator/verification"
)

const Version = "1.0.0"

const defaultTimeout = 30 * time.Second

// Facilitator bundles the network registry, the verification pipeline and
// the settlement executor behind one handle. Construct it once at startup
// and share it; all methods are safe for concurrent use.
type Facilitator struct {
	cfg      *types.Config
	registry *registry.Registry
	verifier *verification.Service
	settler  *settlement.Service
	closers  []func()
	log      logger.Logger
	metrics  metrics.Recorder
	clock    func() time.Time
}

// New validates the configuration, builds the registry of enabled networks
// and connects a chain client for each one. Any unusable network fails
// construction; a facilitator never starts half-configured.
func New(cfg *types.Config, opts ...Option) (*Facilitator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Facilitator{
		cfg:     cfg,
		metrics: metrics.NoopRecorder{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		if cfg.LogLevel != "" {
			f.log = logger.NewZapLogger(cfg.LogLevel)
		} else {
			f.log = logger.NoopLogger{}
		}
	}

	timeout := defaultTimeout
	if cfg.DefaultTimeout > 0 {
		timeout = cfg.DefaultTimeout
	}

	reg, err := registry.New(cfg, f.log)
	if err != nil {
		return nil, err
	}
	f.registry = reg

	f.verifier = verification.NewService(reg, timeout, f.log)
	f.verifier.SetClock(f.clock)
	f.settler = settlement.NewService(reg, timeout, cfg.SimulateSettlement, f.log)

	for _, desc := range reg.List() {
		if err := f.connect(desc); err != nil {
			f.Close()
			return nil, fmt.Errorf("network %s: %w", desc.Network, err)
		}
	}

	f.log.Info("facilitator ready", map[string]any{
		"networks": len(reg.List()),
		"simulate": f.cfg.SimulateSettlement,
	})

	return f, nil
}

// connect builds the chain client for one descriptor and wires it into both
// services. Clients are connected even in simulated mode: settlement skips
// them, verification still reads real chain state.
func (f *Facilitator) connect(desc *registry.Descriptor) error {
	switch desc.Family {
	case registry.FamilyEVM:
		client, err := clients.NewEVMClient(desc, f.log)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, client.Close)
		if err := f.verifier.AddBalanceReader(desc.Network, client); err != nil {
			return err
		}
		return f.settler.AddEVMChain(desc.Network, client)

	case registry.FamilySolana:
		client, err := clients.NewSolanaClient(desc, f.log)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, client.Close)
		if err := f.verifier.AddBalanceReader(desc.Network, client); err != nil {
			return err
		}
		return f.settler.AddSolanaChain(desc.Network, client)

	default:
		return fmt.Errorf("unhandled chain family %q", desc.Family)
	}
}

// metricNetwork canonicalizes a caller-supplied network id for metric
// labels. Unresolvable ids collapse to one value so arbitrary request
// strings cannot grow the label set.
func (f *Facilitator) metricNetwork(network string) string {
	if desc, err := f.registry.Resolve(network); err == nil {
		return desc.Network
	}
	return "unknown"
}

// Verify classifies a payment authorization without touching chain state
// beyond a balance read. An error return means the request itself was
// malformed; every payment-level problem comes back inside the result.
func (f *Facilitator) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error) {
	if payload == nil || requirements == nil {
		return nil, fmt.Errorf("payload and requirements are required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := requirements.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	start := f.clock()

	f.log.Debug("verify requested", map[string]any{
		"request_id": requestID,
		"network":    payload.Accepted.Network,
		"scheme":     payload.Accepted.Scheme,
		"resource":   payload.Resource,
	})

	result := f.verifier.Verify(ctx, payload, requirements)

	outcome := "verified"
	if result.Rejection != nil {
		outcome = result.Rejection.Code
	}
	labels := map[string]string{"network": f.metricNetwork(payload.Accepted.Network)}
	f.metrics.IncCounter(outcome, labels)
	f.metrics.ObserveLatency("verify", f.clock().Sub(start), labels)

	f.log.Info("verify completed", map[string]any{
		"request_id": requestID,
		"network":    payload.Accepted.Network,
		"valid":      result.IsValid,
		"payer":      result.Payer,
		"outcome":    outcome,
	})

	return result, nil
}

// Settle executes a payment authorization on chain. An error return means
// the request itself was malformed; every settlement failure, including
// on-chain reverts, comes back inside the result.
func (f *Facilitator) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettlementResult, error) {
	if payload == nil || requirements == nil {
		return nil, fmt.Errorf("payload and requirements are required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := requirements.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	start := f.clock()

	f.log.Debug("settle requested", map[string]any{
		"request_id": requestID,
		"network":    payload.Accepted.Network,
		"scheme":     payload.Accepted.Scheme,
		"pay_to":     requirements.PayTo,
	})

	result := f.settler.Settle(ctx, payload, requirements)

	outcome := "settled"
	if result.Rejection != nil {
		outcome = result.Rejection.Code
	}
	labels := map[string]string{"network": f.metricNetwork(payload.Accepted.Network)}
	f.metrics.IncCounter(outcome, labels)
	f.metrics.ObserveLatency("settle", f.clock().Sub(start), labels)

	f.log.Info("settle completed", map[string]any{
		"request_id": requestID,
		"network":    payload.Accepted.Network,
		"success":    result.Success,
		"payer":      result.Payer,
		"tx":         result.Transaction,
		"outcome":    outcome,
	})

	return result, nil
}

// BatchVerify verifies independent payments concurrently, preserving request
// order in the results.
func (f *Facilitator) BatchVerify(ctx context.Context, requests []*types.VerifyRequest) ([]*types.VerificationResult, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("at least one request is required")
	}
	for i, req := range requests {
		if req == nil {
			return nil, fmt.Errorf("requests[%d] is nil", i)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
	}

	start := f.clock()
	results := f.verifier.BatchVerify(ctx, requests)

	for i, result := range results {
		outcome := "verified"
		if result.Rejection != nil {
			outcome = result.Rejection.Code
		}
		f.metrics.IncCounter(outcome, map[string]string{"network": f.metricNetwork(requests[i].PaymentPayload.Accepted.Network)})
	}
	f.metrics.ObserveLatency("batch_verify", f.clock().Sub(start), map[string]string{"network": ""})

	return results, nil
}

// BatchSettle settles independent payments concurrently, preserving request
// order in the results.
func (f *Facilitator) BatchSettle(ctx context.Context, requests []*types.SettleRequest) ([]*types.SettlementResult, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("at least one request is required")
	}
	for i, req := range requests {
		if req == nil {
			return nil, fmt.Errorf("requests[%d] is nil", i)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
	}

	start := f.clock()
	results := f.settler.BatchSettle(ctx, requests)

	for i, result := range results {
		outcome := "settled"
		if result.Rejection != nil {
			outcome = result.Rejection.Code
		}
		f.metrics.IncCounter(outcome, map[string]string{"network": f.metricNetwork(requests[i].PaymentPayload.Accepted.Network)})
	}
	f.metrics.ObserveLatency("batch_settle", f.clock().Sub(start), map[string]string{"network": ""})

	return results, nil
}

// Supported describes every payment kind this facilitator accepts, in the
// order the networks were configured.
func (f *Facilitator) Supported() *types.SupportedResponse {
	descriptors := f.registry.List()

	kinds := make([]types.SupportedKind, 0, len(descriptors))
	signers := make(map[string][]string)

	for _, d := range descriptors {
		extra := map[string]any{}
		switch d.Family {
		case registry.FamilyEVM:
			extra["name"] = d.EIP712Name
			extra["version"] = d.EIP712Version
			signers["eip155:*"] = appendUnique(signers["eip155:*"], d.SignerAddress)
		case registry.FamilySolana:
			extra["feePayer"] = d.SignerAddress
			signers["solana:*"] = appendUnique(signers["solana:*"], d.SignerAddress)
		}

		kinds = append(kinds, types.SupportedKind{
			X402Version: types.ProtocolVersion,
			Scheme:      types.SchemeExact,
			Network:     d.Network,
			Extra:       extra,
		})
	}

	return &types.SupportedResponse{
		Kinds:      kinds,
		Extensions: []string{},
		Signers:    signers,
	}
}

// IsNetworkSupported reports whether an identifier resolves to an enabled
// network.
func (f *Facilitator) IsNetworkSupported(network string) bool {
	_, err := f.registry.Resolve(network)
	return err == nil
}

// Close releases every chain connection. The facilitator must not be used
// afterwards.
func (f *Facilitator) Close() {
	for _, c := range f.closers {
		c()
	}
	f.closers = nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
