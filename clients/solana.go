package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/settlement"
	"github.com/x402kit/facilitator/verification"
)

const (
	confirmAttempts   = 30
	confirmRetryDelay = time.Second
)

// SolanaClient talks to one Solana cluster. It reads SPL token accounts for
// verification and submits delegated transfers for settlement, paying fees
// from the facilitator's account.
type SolanaClient struct {
	desc   *registry.Descriptor
	client *rpc.Client
	mint   solana.PublicKey
	signer solana.PrivateKey
	owner  solana.PublicKey
	log    logger.Logger
}

var (
	_ verification.BalanceReader = (*SolanaClient)(nil)
	_ settlement.SolanaChain     = (*SolanaClient)(nil)
)

// NewSolanaClient binds the descriptor's RPC endpoint, mint and signing key.
// The key must derive the configured signer address.
func NewSolanaClient(desc *registry.Descriptor, log logger.Logger) (*SolanaClient, error) {
	if desc.Family != registry.FamilySolana {
		return nil, fmt.Errorf("network %s is not a Solana network", desc.Network)
	}

	mint, err := solana.PublicKeyFromBase58(desc.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", desc.Asset, err)
	}

	signer, err := solana.PrivateKeyFromBase58(desc.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	owner := signer.PublicKey()
	if owner.String() != desc.SignerAddress {
		return nil, fmt.Errorf("signer key derives %s, configuration says %s", owner, desc.SignerAddress)
	}

	return &SolanaClient{
		desc:   desc,
		client: rpc.New(desc.RPCURL),
		mint:   mint,
		signer: signer,
		owner:  owner,
		log:    log,
	}, nil
}

// tokenAccount fetches and decodes the owner's associated token account for
// the settlement mint. rpc.ErrNotFound passes through untouched so callers
// can treat a missing account as zero state.
func (c *SolanaClient) tokenAccount(ctx context.Context, owner solana.PublicKey) (*token.Account, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, c.mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}

	info, err := c.client.GetAccountInfo(ctx, ata)
	if err != nil {
		return nil, err
	}

	var acct token.Account
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acct); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	return &acct, nil
}

// Balance reads the owner's settlement-asset balance. An owner with no token
// account holds zero, which is a valid answer, not an error.
func (c *SolanaClient) Balance(ctx context.Context, owner string) (*big.Int, error) {
	pub, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("decode owner: %w", err)
	}

	acct, err := c.tokenAccount(ctx, pub)
	if errors.Is(err, rpc.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetUint64(acct.Amount), nil
}

// Delegation reports the owner's standing SPL approval. A missing token
// account or absent delegate comes back as the zero state.
func (c *SolanaClient) Delegation(ctx context.Context, owner string) (settlement.DelegationState, error) {
	pub, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return settlement.DelegationState{}, fmt.Errorf("decode owner: %w", err)
	}

	acct, err := c.tokenAccount(ctx, pub)
	if errors.Is(err, rpc.ErrNotFound) {
		return settlement.DelegationState{}, nil
	}
	if err != nil {
		return settlement.DelegationState{}, err
	}

	if acct.Delegate == nil {
		return settlement.DelegationState{}, nil
	}
	return settlement.DelegationState{
		Delegate: acct.Delegate.String(),
		Amount:   acct.DelegatedAmount,
	}, nil
}

// SubmitDelegatedTransfer moves tokens between the payer's and recipient's
// associated token accounts, signed by the facilitator as delegate, and
// waits for confirmed commitment.
func (c *SolanaClient) SubmitDelegatedTransfer(ctx context.Context, from, to string, amount uint64) (string, error) {
	source, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return "", fmt.Errorf("decode source: %w", err)
	}
	dest, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("decode destination: %w", err)
	}

	srcATA, _, err := solana.FindAssociatedTokenAddress(source, c.mint)
	if err != nil {
		return "", fmt.Errorf("derive source token account: %w", err)
	}
	dstATA, _, err := solana.FindAssociatedTokenAddress(dest, c.mint)
	if err != nil {
		return "", fmt.Errorf("derive destination token account: %w", err)
	}

	instruction := token.NewTransferInstruction(amount, srcATA, dstATA, c.owner, nil).Build()

	latest, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		latest.Value.Blockhash,
		solana.TransactionPayer(c.owner),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.owner) {
			return &c.signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	c.log.Debug("transaction submitted", map[string]any{
		"network": c.desc.Network,
		"tx":      sig.String(),
	})

	return c.awaitConfirmation(ctx, sig)
}

func (c *SolanaClient) awaitConfirmation(ctx context.Context, sig solana.Signature) (string, error) {
	for i := 0; i < confirmAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("confirmation of %s: %w", sig, ctx.Err())
		case <-time.After(confirmRetryDelay):
		}

		status, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil || len(status.Value) == 0 || status.Value[0] == nil {
			continue
		}

		st := status.Value[0]
		if st.Err != nil {
			return "", fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
		}
		if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return sig.String(), nil
		}
	}

	return "", fmt.Errorf("transaction %s not confirmed after %d attempts", sig, confirmAttempts)
}

// Close releases the RPC connection.
func (c *SolanaClient) Close() {
	_ = c.client.Close()
}
