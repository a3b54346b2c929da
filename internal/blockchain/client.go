// internal/blockchain/client.go
package blockchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client – тонкий адаптер для взаимодействия с блокчейном Solana через solana-go.
type Client struct {
	rpc      RPC
	logger   *zap.Logger
	decimals sync.Map // mint -> uint8
}

// NewClient создаёт новый клиент, принимая RPC URL и логгер через dependency injection.
func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return NewClientWithRPC(rpc.New(rpcURL), logger)
}

// NewClientWithRPC wraps an existing RPC implementation.
func NewClientWithRPC(r RPC, logger *zap.Logger) *Client {
	return &Client{
		rpc:    r,
		logger: logger.Named("solana-client"),
	}
}

// BalanceOf returns the SOL balance of address.
func (c *Client) BalanceOf(ctx context.Context, address string) (float64, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	res, err := c.rpc.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Error("GetBalance error", zap.String("address", address), zap.Error(err))
		return 0, err
	}
	sol, _ := decimal.NewFromInt(int64(res.Value)).Div(decimal.NewFromInt(LamportsPerSOL)).Float64()
	return sol, nil
}

// Decimals returns the decimals of a mint. Mint decimals never change, so
// results are cached for the life of the process.
func (c *Client) Decimals(ctx context.Context, mint string) (uint8, error) {
	if v, ok := c.decimals.Load(mint); ok {
		return v.(uint8), nil
	}
	pub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	res, err := c.rpc.GetTokenSupply(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Debug("GetTokenSupply error", zap.String("mint", mint), zap.Error(err))
		return 0, err
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("mint %s: empty supply response", mint)
	}
	c.decimals.Store(mint, res.Value.Decimals)
	return res.Value.Decimals, nil
}

// SendTransactionWithOpts отправляет транзакцию с заданными опциями.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		c.logger.Error("SendTransactionWithOpts error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatuses получает статусы транзакций.
func (c *Client) GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, signatures...)
	if err != nil {
		c.logger.Debug("GetSignatureStatuses error", zap.Error(err))
		return nil, err
	}
	return result, nil
}
