// internal/bot/scan.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/position"
	"github.com/rovshanmuradov/solana-autotrader/internal/rotation"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// FastScan refreshes discovery for every query and shortlists the best
// candidates for the next deep scan. It makes no advisor calls.
func (e *Engine) FastScan(ctx context.Context) (string, error) {
	st := e.strategy(ctx)
	filter := domain.DiscoveryFilter{Limit: e.cfg.DiscoveryLimit}
	var minQuality float64
	if st != nil {
		filter.MinLiquidityUSD = st.MinLiquidityUSD
		filter.MinVolumeUSD = st.MinVolumeUSD
		minQuality = st.MinQuality
	}

	seen := make(map[string]domain.TokenSnapshot)
	var errs []error
	cached := 0
	for _, q := range e.cfg.Queries {
		f := filter
		f.Query = q
		tokens, ok := e.d.Discovery.Get(f)
		if ok {
			cached++
		} else {
			var err error
			tokens, err = e.d.Market.Discover(ctx, f)
			if err != nil {
				e.logger.Warn("Discovery failed", zap.String("query", q), zap.Error(err))
				errs = append(errs, fmt.Errorf("discover %q: %w", q, err))
				continue
			}
			e.d.Discovery.Put(f, tokens)
		}
		for _, t := range tokens {
			if prev, dup := seen[t.Address]; !dup || t.FetchedAt.After(prev.FetchedAt) {
				seen[t.Address] = t
			}
		}
	}
	if len(errs) == len(e.cfg.Queries) {
		return "", errors.Join(errs...)
	}

	list := make([]domain.TokenSnapshot, 0, len(seen))
	lowQuality := 0
	for _, t := range seen {
		if t.QualityScore < minQuality {
			lowQuality++
			continue
		}
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].QualityScore != list[j].QualityScore {
			return list[i].QualityScore > list[j].QualityScore
		}
		return list[i].Volume24h > list[j].Volume24h
	})
	if len(list) > e.cfg.DeepScanCandidates {
		list = list[:e.cfg.DeepScanCandidates]
	}
	e.setShortlist(list)

	return fmt.Sprintf("discovered %d tokens (%d queries cached), %d below quality, shortlisted %d",
		len(seen), cached, lowQuality, len(list)), nil
}

// DeepScan runs entry consensus and the loss screen on the shortlist, then
// evaluates the survivors for every enabled wallet.
func (e *Engine) DeepScan(ctx context.Context) (string, error) {
	list := e.Shortlist()
	if len(list) == 0 {
		if _, err := e.FastScan(ctx); err != nil {
			return "", err
		}
		list = e.Shortlist()
	}
	if len(list) == 0 {
		return "no candidates", nil
	}
	configs, err := e.d.Store.EnabledConfigs(ctx)
	if err != nil {
		return "", fmt.Errorf("load wallets: %w", err)
	}
	if len(configs) == 0 {
		return "no enabled wallets", nil
	}
	st := e.strategy(ctx)

	candidates := e.score(ctx, list, st)
	if len(candidates) == 0 {
		return fmt.Sprintf("scored %d tokens, no buy signals", len(list)), nil
	}

	var opened atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, cfg := range configs {
		wallet := cfg.Wallet
		g.Go(func() error {
			n, err := e.scanWallet(gctx, wallet, candidates, st)
			opened.Add(int32(n))
			if err != nil {
				logger.WithWallet(e.logger, wallet).Error("Wallet scan failed", zap.Error(err))
			}
			// one wallet's failure never aborts the others
			return nil
		})
	}
	_ = g.Wait()

	return fmt.Sprintf("scored %d tokens, %d buy signals, %d wallets, opened %d",
		len(list), len(candidates), len(configs), opened.Load()), nil
}

// score runs consensus and the loss screen for each token and keeps the buy
// signals, strongest first.
func (e *Engine) score(ctx context.Context, tokens []domain.TokenSnapshot, st *domain.Strategy) []Candidate {
	results := make([]*Candidate, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, tok := range tokens {
		g.Go(func() error {
			res := e.entryConsensus(gctx, tok, st)
			log := logger.WithToken(e.logger, tok.Address)
			if res.Action != domain.ActionBuy {
				log.Debug("No buy signal",
					zap.String("symbol", tok.Symbol),
					zap.String("action", string(res.Action)),
					zap.Float64("confidence", res.Confidence),
					zap.Bool("insufficient", res.Insufficient),
					zap.Bool("split", res.Split))
				return nil
			}
			results[i] = &Candidate{Token: tok, Consensus: res, Risk: e.d.Risk.Assess(gctx, tok)}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Consensus.Confidence > out[j].Consensus.Confidence
	})
	return out
}

func (e *Engine) entryConsensus(ctx context.Context, tok domain.TokenSnapshot, st *domain.Strategy) consensus.Result {
	key := "entry:" + tok.Address
	if res, ok := e.d.Analysis.Get(key, tok.PriceNative, 0); ok {
		return res
	}
	res := e.d.Consensus.Decide(ctx, advisor.Request{
		Kind:         advisor.KindEntry,
		Token:        tok,
		CurrentPrice: tok.PriceNative,
		Strategy:     st,
	})
	if !res.Insufficient {
		e.d.Analysis.Put(key, res, tok.PriceNative, 0)
	}
	return res
}

// scanWallet evaluates candidates for one wallet under its lock.
func (e *Engine) scanWallet(ctx context.Context, wallet string, candidates []Candidate, st *domain.Strategy) (int, error) {
	unlock := e.wallets.Lock(wallet)
	defer unlock()

	log := logger.WithWallet(e.logger, wallet)
	cfg, err := e.d.Store.GetConfig(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}
	positions, err := e.d.Store.PositionsByWallet(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("load positions: %w", err)
	}
	snap, err := e.d.Portfolio.Analyze(ctx, wallet, positions)
	if err != nil {
		return 0, fmt.Errorf("value portfolio: %w", err)
	}
	dd := e.refreshDrawdown(ctx, cfg, snap.TotalValue)

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Token] = true
	}

	opened := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return opened, ctx.Err()
		}
		// budget and trade counter move with every buy
		if fresh, err := e.d.Store.GetConfig(ctx, wallet); err == nil {
			cfg = fresh
		}
		in := EvalInput{
			Candidate: c,
			Wallet:    *cfg,
			Drawdown:  dd,
			Portfolio: snap,
			Holdings:  holdingsOf(positions, snap),
			Strategy:  st,
			Held:      held[c.Token.Address],
			Limits:    e.limits(),
			Now:       e.d.Clock.Now(),
		}
		d := Evaluate(in)
		tlog := logger.WithToken(log, c.Token.Address)

		switch d.Kind {
		case Skip:
			logger.Decision(tlog, d.Verdict, zap.String("symbol", c.Token.Symbol))
			if d.Verdict.Gate != "duplicate" {
				e.blocked(wallet, c.Token.Address, d.Verdict)
			}
			switch d.Verdict.Gate {
			case "drawdown", "daily_limit", "budget":
				// no later candidate can pass these either
				return opened, nil
			}
			continue

		case Rotate:
			tlog.Info("Rotating position to fund candidate",
				zap.String("victim", d.Victim.Position.Symbol),
				zap.Float64("victim_score", d.Victim.Score),
				zap.Bool("emergency", d.Emergency),
				zap.Float64("required", d.Amount))
			res, err := e.d.Positions.Close(ctx, d.Victim.Position.ID, domain.ExitRotation, d.Victim.Price,
				e.exitSnapshot(d.Victim.Position.Token, d.Victim.Price))
			if err != nil || !res.Exited {
				tlog.Warn("Rotation sell did not complete", zap.Error(err))
				continue
			}
			delete(held, d.Victim.Position.Token)
			if positions, err = e.d.Store.PositionsByWallet(ctx, wallet); err != nil {
				return opened, err
			}
			if snap, err = e.d.Portfolio.Analyze(ctx, wallet, positions); err != nil {
				return opened, err
			}
			if fresh, err := e.d.Store.GetConfig(ctx, wallet); err == nil {
				in.Wallet = *fresh
			}
			in.Portfolio = snap
			in.Holdings = holdingsOf(positions, snap)
			in.Now = e.d.Clock.Now()
			d = Evaluate(in)
			if d.Kind != Buy {
				logger.Decision(tlog, d.Verdict, zap.String("symbol", c.Token.Symbol), zap.String("after", "rotation"))
				continue
			}
			fallthrough

		case Buy:
			logger.Decision(tlog, d.Verdict, zap.String("symbol", c.Token.Symbol))
			p, err := e.d.Positions.Open(ctx, position.OpenRequest{
				Wallet:     wallet,
				Snapshot:   c.Token,
				Params:     d.Params,
				Amount:     d.Amount,
				StopFactor: d.StopFactor,
				FeeExempt:  cfg.FeeExempt,
			})
			if err != nil {
				if errors.Is(err, storage.ErrDuplicateOpen) {
					held[c.Token.Address] = true
				}
				tlog.Warn("Buy failed", zap.Error(err))
				continue
			}
			opened++
			held[p.Token] = true
			positions = append(positions, p)
			snap = applyBuy(snap, p.Token, p.Symbol, d.Amount)
		}
	}
	return opened, nil
}

// holdingsOf pairs each active position with its current valuation price.
func holdingsOf(positions []*domain.Position, snap portfolio.Snapshot) []rotation.Holding {
	out := make([]rotation.Holding, 0, len(positions))
	for _, p := range positions {
		price := p.LastPrice
		if h, ok := snap.Holding(p.Token); ok && h.Price > 0 {
			price = h.Price
		}
		out = append(out, rotation.Holding{Position: p, Price: price})
	}
	return out
}
