package reconciler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidPrivateKey = errors.New("reconciler: invalid operator key")
	ErrInvalidAmount     = errors.New("reconciler: invalid amount")
)

// Minimal ABI of the value-holding script. The script itself is an
// external, audited program; we only drive its release/refund entry
// points from here.
const scriptABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"release","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"payer","type":"address"}],"name":"refund","outputs":[],"type":"function"}
]`

// DefaultGasLimit covers script invocations when estimation fails.
const DefaultGasLimit = uint64(150000)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// ChainConfig configures the chain-backed reconciler.
type ChainConfig struct {
	RPCURL     string
	PrivateKey string // hex, with or without 0x prefix
	ChainID    int64
}

// Option configures the reconciler.
type Option func(*Chain)

// WithClient injects a custom client (useful for testing).
func WithClient(client EthClient) Option {
	return func(c *Chain) {
		c.client = client
	}
}

// Chain submits release/refund transactions to the ledger and confirms
// them by receipt.
type Chain struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	operator   common.Address
	chainID    *big.Int
	abi        abi.ABI
}

var _ Reconciler = (*Chain)(nil)

// NewChain creates a chain-backed reconciler.
func NewChain(cfg ChainConfig, opts ...Option) (*Chain, error) {
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}
	parsedABI, err := abi.JSON(strings.NewReader(scriptABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse script ABI: %w", err)
	}

	c := &Chain{
		privateKey: privateKey,
		operator:   crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		abi:        parsedABI,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.client = client
	}
	return c, nil
}

// Operator returns the submitting operator address.
func (c *Chain) Operator() string {
	return c.operator.Hex()
}

// Close releases the underlying RPC connection.
func (c *Chain) Close() {
	c.client.Close()
}

func (c *Chain) EnsureScript(ctx context.Context, courseID string) (string, error) {
	return DeriveScriptAddress(courseID), nil
}

func (c *Chain) SubmitRelease(ctx context.Context, scriptAddress, amount, payoutKey string) (string, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	data, err := c.abi.Pack("release", common.HexToAddress(payoutKey), value)
	if err != nil {
		return "", fmt.Errorf("failed to pack release call: %w", err)
	}
	return c.send(ctx, common.HexToAddress(scriptAddress), data)
}

func (c *Chain) SubmitRefund(ctx context.Context, scriptAddress, payerKey string) (string, error) {
	data, err := c.abi.Pack("refund", common.HexToAddress(payerKey))
	if err != nil {
		return "", fmt.Errorf("failed to pack refund call: %w", err)
	}
	return c.send(ctx, common.HexToAddress(scriptAddress), data)
}

func (c *Chain) send(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrUnavailable, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", ErrUnavailable, err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.operator,
		To:    &to,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("%w: send: %v", ErrUnavailable, err)
	}
	return signedTx.Hash().Hex(), nil
}

// Confirm maps the transaction receipt to a confirmation status: no
// receipt yet means Pending, receipt status 1 means Confirmed, status 0
// means the script rejected the instruction.
func (c *Chain) Confirm(ctx context.Context, txRef string) (ConfirmStatus, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Pending, nil
		}
		return Pending, fmt.Errorf("%w: receipt: %v", ErrUnavailable, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return Confirmed, nil
	}
	return Failed, nil
}
