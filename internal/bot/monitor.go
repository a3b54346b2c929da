// internal/bot/monitor.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/position"
)

type monitorStats struct {
	checked  atomic.Int32
	exited   atomic.Int32
	advised  atomic.Int32
	rebought atomic.Int32
	skipped  atomic.Int32
}

// walletView is the lazily loaded wallet state a rebuy needs.
type walletView struct {
	cfg    *domain.BotConfig
	snap   portfolio.Snapshot
	loaded bool
}

// Monitor prices every active position in one batch, applies mechanical
// exits, then re-asks the advisors about positions whose price moved.
func (e *Engine) Monitor(ctx context.Context) (string, error) {
	active, err := e.d.Store.ActivePositions(ctx)
	if err != nil {
		return "", fmt.Errorf("load positions: %w", err)
	}
	if len(active) == 0 {
		return "no open positions", nil
	}

	tokens := make([]string, 0, len(active))
	byWallet := make(map[string][]*domain.Position)
	seen := make(map[string]bool)
	for _, p := range active {
		if !seen[p.Token] {
			seen[p.Token] = true
			tokens = append(tokens, p.Token)
		}
		byWallet[p.Wallet] = append(byWallet[p.Wallet], p)
	}
	prices, err := e.d.Market.BatchPriceOf(ctx, tokens)
	if err != nil {
		// an outage is not a per-token miss; nothing is counted against positions
		return "", fmt.Errorf("price batch: %w", err)
	}

	var stats monitorStats
	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	var wg sync.WaitGroup
	for wallet, positions := range byWallet {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.monitorWallet(ctx, wallet, positions, prices, &stats)
		}()
	}
	wg.Wait()

	return fmt.Sprintf("checked %d positions in %d wallets: %d exited, %d advised, %d rebought, %d unchanged",
		stats.checked.Load(), len(byWallet), stats.exited.Load(), stats.advised.Load(),
		stats.rebought.Load(), stats.skipped.Load()), nil
}

func (e *Engine) monitorWallet(ctx context.Context, wallet string, positions []*domain.Position, prices map[string]float64, stats *monitorStats) {
	unlock := e.wallets.Lock(wallet)
	defer unlock()

	view := &walletView{}
	for _, p := range positions {
		if ctx.Err() != nil {
			return
		}
		price, ok := prices[p.Token]
		if err := e.monitorPosition(ctx, p, price, ok, view, stats); err != nil {
			logger.WithToken(logger.WithWallet(e.logger, wallet), p.Token).Warn("Position check failed", zap.Error(err))
		}
	}
}

func (e *Engine) monitorPosition(ctx context.Context, p *domain.Position, price float64, ok bool, view *walletView, stats *monitorStats) error {
	stats.checked.Add(1)
	log := logger.WithToken(logger.WithWallet(e.logger, p.Wallet), p.Token)
	key := "position:" + p.ID

	res, err := e.d.Positions.Check(ctx, p.ID, price, ok, e.exitSnapshot(p.Token, price))
	if err != nil {
		if errors.Is(err, position.ErrNotActive) {
			e.forget(p.ID)
			return nil
		}
		return err
	}
	if res.Exited || res.Lost {
		stats.exited.Add(1)
		e.forget(p.ID)
		view.loaded = false
		return nil
	}
	if !ok {
		return nil
	}

	cur := res.Position
	profit := cur.ProfitPct(price)
	if e.d.Fingerprints.Unchanged(p.ID, price, profit) {
		stats.skipped.Add(1)
		return nil
	}

	reading, cached := e.d.Analysis.Get(key, price, profit)
	if !cached {
		reading = e.d.Consensus.Decide(ctx, advisor.Request{
			Kind:         advisor.KindPosition,
			Token:        e.tokenSnapshot(cur, price),
			Position:     cur,
			CurrentPrice: price,
		})
		if !reading.Insufficient {
			e.d.Analysis.Put(key, reading, price, profit)
		}
	}
	e.d.Fingerprints.Record(p.ID, price, profit)
	if reading.Insufficient {
		log.Debug("Advisor quorum not met, keeping mechanical exits only",
			zap.Int("responders", reading.Responders), zap.Int("queried", reading.Queried))
		return nil
	}

	var minProfit float64
	if band, found := e.limits().Modes.Band(cur.Mode); found {
		minProfit = band.MinAdvisorProfitPct
	}
	stats.advised.Add(1)
	adv, err := e.d.Positions.Advise(ctx, p.ID, price,
		position.Reading{Action: reading.Action, Confidence: reading.Confidence, Cached: cached}, minProfit, e.exitSnapshot(p.Token, price))
	if err != nil {
		return err
	}
	if adv.Exited || adv.Lost {
		stats.exited.Add(1)
		e.forget(p.ID)
		view.loaded = false
		return nil
	}

	if reading.Action == domain.ActionBuy {
		rebought, err := e.maybeRebuy(ctx, adv.Position, price, reading.Confidence, view)
		if err != nil {
			return err
		}
		if rebought {
			stats.rebought.Add(1)
			e.forget(p.ID)
		}
	}
	return nil
}

// maybeRebuy averages down a losing position when the add rules, the
// drawdown pause and the wallet's capital all allow it.
func (e *Engine) maybeRebuy(ctx context.Context, p *domain.Position, price, confidence float64, view *walletView) (bool, error) {
	check := position.CanAdd(p, price, confidence, e.d.Positions.Config().Add)
	if !check.Allowed {
		return false, nil
	}
	log := logger.WithToken(logger.WithWallet(e.logger, p.Wallet), p.Token)

	if !view.loaded {
		cfg, err := e.d.Store.GetConfig(ctx, p.Wallet)
		if err != nil {
			return false, err
		}
		positions, err := e.d.Store.PositionsByWallet(ctx, p.Wallet)
		if err != nil {
			return false, err
		}
		snap, err := e.d.Portfolio.Analyze(ctx, p.Wallet, positions)
		if err != nil {
			return false, err
		}
		e.refreshDrawdown(ctx, cfg, snap.TotalValue)
		view.cfg, view.snap, view.loaded = cfg, snap, true
	}
	if view.cfg.Paused && !view.cfg.DrawdownBypass {
		log.Debug("Rebuy held back, wallet paused by drawdown")
		return false, nil
	}

	amount := math.Min(p.OriginalStake, view.snap.Available)
	amount = math.Min(amount, view.snap.ConcentrationHeadroom(p.Token, e.limits().Portfolio))
	amount = math.Min(amount, check.MaxAdd)
	if view.cfg.TotalBudget > 0 {
		amount = math.Min(amount, view.cfg.RemainingBudget())
	}
	if amount < e.limits().MinTrade {
		log.Debug("Rebuy too small", zap.Float64("amount", amount), zap.Float64("min_trade", e.limits().MinTrade))
		return false, nil
	}

	if _, err := e.d.Positions.Rebuy(ctx, p.ID, price, confidence, amount, view.cfg.FeeExempt); err != nil {
		if errors.Is(err, position.ErrAddRejected) {
			return false, nil
		}
		return false, err
	}
	view.snap = applyBuy(view.snap, p.Token, p.Symbol, amount)
	if view.cfg.TotalBudget > 0 {
		view.cfg.UsedBudget += amount
	}
	return true, nil
}

func (e *Engine) forget(id string) {
	e.d.Fingerprints.Forget(id)
	e.d.Analysis.Delete("position:" + id)
}
