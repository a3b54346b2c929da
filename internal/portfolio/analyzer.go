// internal/portfolio/analyzer.go
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"go.uber.org/zap"
)

// PriceSource resolves SOL prices for many tokens in one batched call.
type PriceSource interface {
	BatchPriceOf(ctx context.Context, tokens []string) (map[string]float64, error)
}

// BalanceSource returns a wallet's SOL balance.
type BalanceSource interface {
	BalanceOf(ctx context.Context, address string) (float64, error)
}

// Config holds the capital limits.
type Config struct {
	DeployablePct    float64
	ConcentrationPct float64
	ReservePct       float64
	ReserveMin       float64
	ReserveMax       float64
}

// DefaultConfig returns a 90% deployable cap and a 25% concentration cap.
func DefaultConfig() Config {
	return Config{DeployablePct: 90, ConcentrationPct: 25, ReservePct: 2, ReserveMin: 0.01, ReserveMax: 0.5}
}

// Holding is one token position valued in SOL.
type Holding struct {
	PositionID string
	Token      string
	Symbol     string
	Quantity   float64
	Price      float64
	Value      float64
	Pct        float64 // of total portfolio value
	Stale      bool    // priced from the last known price
}

// Snapshot is a wallet valuation.
type Snapshot struct {
	Wallet          string
	SOL             float64
	Holdings        []Holding
	Invested        float64
	TotalValue      float64
	LargestPct      float64
	HHI             float64
	Diversification float64 // 0..100, higher is more diversified
	Reserve         float64
	DeployableCap   float64
	Available       float64
	Unpriced        []string
	At              time.Time
}

// Holding returns the holding for a token.
func (s Snapshot) Holding(token string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Token == token {
			return h, true
		}
	}
	return Holding{}, false
}

// ConcentrationHeadroom is how much more SOL may go into token before it
// exceeds the concentration cap.
func (s Snapshot) ConcentrationHeadroom(token string, cfg Config) float64 {
	limit := s.TotalValue * cfg.ConcentrationPct / 100
	if h, ok := s.Holding(token); ok {
		limit -= h.Value
	}
	return math.Max(0, limit)
}

// Reserve scales the fee/liquidity reserve with portfolio size.
func Reserve(total float64, cfg Config) float64 {
	r := total * cfg.ReservePct / 100
	return math.Min(cfg.ReserveMax, math.Max(cfg.ReserveMin, r))
}

// Compute values a wallet from its SOL balance, positions and prices. Tokens
// missing from prices fall back to the position's last known price.
func Compute(wallet string, sol float64, positions []*domain.Position, prices map[string]float64, cfg Config, now time.Time) Snapshot {
	s := Snapshot{Wallet: wallet, SOL: sol, At: now}
	for _, p := range positions {
		if !p.State.Active() || p.Quantity <= 0 {
			continue
		}
		price, ok := prices[p.Token]
		stale := false
		if !ok || price <= 0 {
			price, stale = p.LastPrice, true
			if price <= 0 {
				price = p.EntryPrice
			}
			s.Unpriced = append(s.Unpriced, p.Token)
		}
		h := Holding{
			PositionID: p.ID, Token: p.Token, Symbol: p.Symbol,
			Quantity: p.Quantity, Price: price, Value: p.ValueAt(price), Stale: stale,
		}
		s.Invested += h.Value
		s.Holdings = append(s.Holdings, h)
	}
	s.TotalValue = sol + s.Invested

	if s.TotalValue > 0 {
		for i := range s.Holdings {
			s.Holdings[i].Pct = s.Holdings[i].Value / s.TotalValue * 100
			s.LargestPct = math.Max(s.LargestPct, s.Holdings[i].Pct)
		}
	}
	sort.Slice(s.Holdings, func(i, j int) bool { return s.Holdings[i].Value > s.Holdings[j].Value })

	s.HHI = HHI(s.Holdings)
	s.Diversification = 100 * (1 - s.HHI)
	if len(s.Holdings) == 0 {
		s.Diversification = 100
	}

	s.Reserve = Reserve(s.TotalValue, cfg)
	s.DeployableCap = s.TotalValue * cfg.DeployablePct / 100
	s.Available = math.Max(0, math.Min(sol-s.Reserve, s.DeployableCap-s.Invested))
	return s
}

// HHI is the Herfindahl-Hirschman index over holding weights, 0..1.
func HHI(holdings []Holding) float64 {
	var total float64
	for _, h := range holdings {
		total += h.Value
	}
	if total <= 0 {
		return 0
	}
	var hhi float64
	for _, h := range holdings {
		w := h.Value / total
		hhi += w * w
	}
	return hhi
}

// Analyzer values wallets through batched price lookups.
type Analyzer struct {
	prices   PriceSource
	balances BalanceSource
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewAnalyzer creates a portfolio analyzer.
func NewAnalyzer(prices PriceSource, balances BalanceSource, cfg Config, now func() time.Time, logger *zap.Logger) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{prices: prices, balances: balances, cfg: cfg, now: now, logger: logger.Named("portfolio")}
}

// Config returns the analyzer limits.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze values a wallet. Price lookup failures degrade to last known prices.
func (a *Analyzer) Analyze(ctx context.Context, wallet string, positions []*domain.Position) (Snapshot, error) {
	sol, err := a.balances.BalanceOf(ctx, wallet)
	if err != nil {
		return Snapshot{}, fmt.Errorf("balance of %s: %w", wallet, err)
	}

	tokens := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, dup := seen[p.Token]; dup || !p.State.Active() {
			continue
		}
		seen[p.Token] = struct{}{}
		tokens = append(tokens, p.Token)
	}

	prices := map[string]float64{}
	if len(tokens) > 0 {
		prices, err = a.prices.BatchPriceOf(ctx, tokens)
		if err != nil {
			a.logger.Warn("Batch price lookup failed, valuing at last known prices",
				zap.String("wallet", wallet),
				zap.Int("tokens", len(tokens)),
				zap.Error(err))
			prices = map[string]float64{}
		}
	}

	s := Compute(wallet, sol, positions, prices, a.cfg, a.now())
	a.logger.Debug("Portfolio valued",
		zap.String("wallet", wallet),
		zap.Float64("total_sol", s.TotalValue),
		zap.Float64("available_sol", s.Available),
		zap.Float64("largest_pct", s.LargestPct),
		zap.Float64("diversification", s.Diversification))
	return s, nil
}
