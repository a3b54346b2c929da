// internal/dex/paper.go
package dex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PriceSource quotes a token price in SOL.
type PriceSource interface {
	PriceInSOL(ctx context.Context, token string) (float64, error)
}

// PaperExecutor fills swaps at the current market price without touching
// the chain. Used in dry-run mode.
type PaperExecutor struct {
	prices      PriceSource
	slippageBps int
	logger      *zap.Logger
}

func NewPaperExecutor(prices PriceSource, slippageBps int, logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{prices: prices, slippageBps: slippageBps, logger: logger.Named("paper")}
}

func (p *PaperExecutor) Name() string { return "paper" }

func (p *PaperExecutor) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	price, err := p.prices.PriceInSOL(ctx, req.Token)
	if err != nil {
		return SwapResult{}, fmt.Errorf("paper price: %w", err)
	}
	if price <= 0 {
		return SwapResult{}, fmt.Errorf("%w: no price for %s", ErrNoRoute, req.Token)
	}
	haircut := 1 - float64(p.slippageBps)/20000

	var out float64
	if req.Direction == Buy {
		out = req.Amount / price * haircut
	} else {
		out = req.Amount * price * haircut
	}
	if out <= 0 {
		return SwapResult{}, ErrZeroOutput
	}

	res := SwapResult{Success: true, Signature: "paper-" + uuid.NewString(), AmountOut: out, Route: p.Name()}
	p.logger.Info("Paper swap filled",
		zap.String("direction", string(req.Direction)),
		zap.String("token", req.Token),
		zap.Float64("amount_in", req.Amount),
		zap.Float64("amount_out", out))
	return res, nil
}
