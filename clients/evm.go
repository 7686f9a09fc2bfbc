// Package clients provides the chain backends behind verification's balance
// reads and settlement's transaction submissions. Each client binds one
// enabled network descriptor to one RPC endpoint and one signing key.
package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402kit/facilitator/logger"
	"github.com/x402kit/facilitator/registry"
	"github.com/x402kit/facilitator/settlement"
	"github.com/x402kit/facilitator/verification"
)

// The three entry points the facilitator ever calls on the settlement asset.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"permit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// EVMClient talks to one EVM network over JSON-RPC. It reads balances for
// verification and relays permit/transferFrom transactions for settlement,
// paying gas from the facilitator's account.
type EVMClient struct {
	desc   *registry.Descriptor
	eth    *ethclient.Client
	asset  common.Address
	signer *ecdsa.PrivateKey
	from   common.Address
	abi    abi.ABI
	log    logger.Logger
}

var (
	_ verification.BalanceReader = (*EVMClient)(nil)
	_ settlement.EVMChain        = (*EVMClient)(nil)
)

// NewEVMClient connects to the descriptor's RPC endpoint and loads the
// facilitator's signing key. The key must derive the configured signer
// address; a mismatch fails construction rather than the first settlement.
func NewEVMClient(desc *registry.Descriptor, log logger.Logger) (*EVMClient, error) {
	if desc.Family != registry.FamilyEVM {
		return nil, fmt.Errorf("network %s is not an EVM network", desc.Network)
	}

	eth, err := ethclient.Dial(desc.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	signer, err := crypto.HexToECDSA(strings.TrimPrefix(desc.SignerKey, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	from := crypto.PubkeyToAddress(signer.PublicKey)
	if !strings.EqualFold(from.Hex(), desc.SignerAddress) {
		eth.Close()
		return nil, fmt.Errorf("signer key derives %s, configuration says %s", from.Hex(), desc.SignerAddress)
	}

	return &EVMClient{
		desc:   desc,
		eth:    eth,
		asset:  common.HexToAddress(desc.Asset),
		signer: signer,
		from:   from,
		abi:    parsed,
		log:    log,
	}, nil
}

// Balance reads the owner's settlement-asset balance via eth_call.
func (c *EVMClient) Balance(ctx context.Context, owner string) (*big.Int, error) {
	data, err := c.abi.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.asset, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	results, err := c.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(results))
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", results[0])
	}
	return balance, nil
}

// PendingNonce returns the facilitator account's next nonce including
// transactions still in the mempool.
func (c *EVMClient) PendingNonce(ctx context.Context) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, c.from)
}

// SuggestGasPrice proxies the node's fee estimate.
func (c *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// SubmitPermit relays the payer's signed ERC-2612 permit and waits for it to
// mine.
func (c *EVMClient) SubmitPermit(ctx context.Context, call settlement.PermitCall, opts settlement.TxOpts) (string, error) {
	data, err := c.abi.Pack("permit",
		common.HexToAddress(call.Owner),
		common.HexToAddress(call.Spender),
		call.Value,
		call.Deadline,
		call.V,
		call.R,
		call.S,
	)
	if err != nil {
		return "", fmt.Errorf("pack permit: %w", err)
	}
	return c.submit(ctx, data, opts)
}

// SubmitTransferFrom spends the allowance the permit granted and waits for
// the transfer to mine.
func (c *EVMClient) SubmitTransferFrom(ctx context.Context, call settlement.TransferFromCall, opts settlement.TxOpts) (string, error) {
	data, err := c.abi.Pack("transferFrom",
		common.HexToAddress(call.Owner),
		common.HexToAddress(call.To),
		call.Value,
	)
	if err != nil {
		return "", fmt.Errorf("pack transferFrom: %w", err)
	}
	return c.submit(ctx, data, opts)
}

func (c *EVMClient) submit(ctx context.Context, callData []byte, opts settlement.TxOpts) (string, error) {
	tx := ethtypes.NewTransaction(opts.Nonce, c.asset, big.NewInt(0), opts.GasLimit, opts.GasPrice, callData)

	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.desc.ChainID), c.signer)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	c.log.Debug("transaction submitted", map[string]any{
		"network": c.desc.Network,
		"tx":      signed.Hash().Hex(),
		"nonce":   opts.Nonce,
	})

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}

	return signed.Hash().Hex(), nil
}

// Close releases the RPC connection.
func (c *EVMClient) Close() {
	c.eth.Close()
}
