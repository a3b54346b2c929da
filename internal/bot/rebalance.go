// internal/bot/rebalance.go
package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// concentrationTolerance keeps rebalance from trimming holdings that sit a
// hair above the cap after normal price noise.
const concentrationTolerance = 1.0

// Rebalance revalues every enabled wallet, updates drawdown state and trims
// holdings that drifted above the concentration cap.
func (e *Engine) Rebalance(ctx context.Context) (string, error) {
	configs, err := e.d.Store.EnabledConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("load wallets: %w", err)
	}
	trimmed, failed := 0, 0
	for _, cfg := range configs {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n, err := e.rebalanceWallet(ctx, cfg.Wallet)
		trimmed += n
		if err != nil {
			failed++
			logger.WithWallet(e.logger, cfg.Wallet).Warn("Rebalance failed", zap.Error(err))
		}
	}
	return fmt.Sprintf("rebalanced %d wallets, trimmed %d holdings, %d failed", len(configs), trimmed, failed), nil
}

func (e *Engine) rebalanceWallet(ctx context.Context, wallet string) (int, error) {
	unlock := e.wallets.Lock(wallet)
	defer unlock()

	cfg, err := e.d.Store.GetConfig(ctx, wallet)
	if err != nil {
		return 0, err
	}
	positions, err := e.d.Store.PositionsByWallet(ctx, wallet)
	if err != nil {
		return 0, err
	}
	snap, err := e.d.Portfolio.Analyze(ctx, wallet, positions)
	if err != nil {
		return 0, err
	}
	e.refreshDrawdown(ctx, cfg, snap.TotalValue)
	log := logger.WithWallet(e.logger, wallet)

	update := events.PortfolioUpdatedEvent{
		BaseEvent:       events.NewBase(events.PortfolioUpdated, e.d.Clock.Now()),
		Wallet:          wallet,
		SOL:             snap.SOL,
		TotalValue:      snap.TotalValue,
		Available:       snap.Available,
		Diversification: snap.Diversification,
		Positions:       len(snap.Holdings),
	}
	if e.d.SolUSD != nil {
		if usd, err := e.d.SolUSD.Price(ctx); err == nil {
			update.ValueUSD = snap.TotalValue * usd
		} else {
			log.Debug("SOL/USD quote unavailable", zap.Error(err))
		}
	}
	_ = e.d.Bus.Publish(update)

	capPct := e.limits().Portfolio.ConcentrationPct
	if capPct <= 0 || snap.TotalValue <= 0 {
		return 0, nil
	}
	limit := snap.TotalValue * capPct / 100

	trimmed := 0
	for _, h := range snap.Holdings {
		if h.Stale || h.PositionID == "" || h.Pct <= capPct+concentrationTolerance {
			continue
		}
		excess := h.Value - limit
		if excess < e.limits().MinTrade {
			continue
		}
		tlog := logger.WithToken(log, h.Token)
		logger.Decision(tlog, logger.Verdict{
			Gate: "concentration", Threshold: capPct, Measured: h.Pct,
			Reason: fmt.Sprintf("%s holds %.1f%% of the portfolio, trimming %.4f SOL", h.Symbol, h.Pct, excess),
		})
		out, err := e.d.Positions.Trim(ctx, h.PositionID, excess/h.Value)
		if err != nil {
			tlog.Warn("Trim failed", zap.Error(err))
			continue
		}
		trimmed++
		e.forget(h.PositionID)
		tlog.Info("Holding trimmed to concentration cap", zap.Float64("sol_out", out))
	}
	return trimmed, nil
}
