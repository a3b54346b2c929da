// internal/bot/engine.go
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/cache"
	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/keylock"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/position"
	"github.com/rovshanmuradov/solana-autotrader/internal/risk"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// MarketData discovers tokens and prices them in SOL.
type MarketData interface {
	Discover(ctx context.Context, filter domain.DiscoveryFilter) ([]domain.TokenSnapshot, error)
	BatchPriceOf(ctx context.Context, tokens []string) (map[string]float64, error)
}

// Decider runs one consensus round.
type Decider interface {
	Decide(ctx context.Context, req advisor.Request) consensus.Result
}

// RiskScreen is the pre-trade loss-probability screen.
type RiskScreen interface {
	Assess(ctx context.Context, token domain.TokenSnapshot) risk.Assessment
}

// Valuer values a wallet.
type Valuer interface {
	Analyze(ctx context.Context, wallet string, positions []*domain.Position) (portfolio.Snapshot, error)
}

// Strategies serves the active strategy.
type Strategies interface {
	Active(ctx context.Context) (*domain.Strategy, error)
	Regenerate(ctx context.Context) (*domain.Strategy, error)
}

// Lifecycle executes position state transitions.
type Lifecycle interface {
	Open(ctx context.Context, req position.OpenRequest) (*domain.Position, error)
	Rebuy(ctx context.Context, id string, price, confidence, amount float64, feeExempt bool) (*domain.Position, error)
	Check(ctx context.Context, id string, price float64, ok bool, exit domain.JournalSnapshot) (position.CheckResult, error)
	Advise(ctx context.Context, id string, price float64, r position.Reading, minProfitPct float64, exit domain.JournalSnapshot) (position.CheckResult, error)
	Close(ctx context.Context, id string, reason domain.ExitReason, price float64, exit domain.JournalSnapshot) (position.CheckResult, error)
	Trim(ctx context.Context, id string, fraction float64) (float64, error)
	Config() position.Config
}

// USDQuote prices SOL in USD.
type USDQuote interface {
	Price(ctx context.Context) (float64, error)
}

// ProviderPool re-enables advisors whose cool-down elapsed.
type ProviderPool interface {
	Reenable() int
}

// Intervals are the job cadences.
type Intervals struct {
	FastScan     time.Duration
	DeepScan     time.Duration
	Monitor      time.Duration
	Rebalance    time.Duration
	CacheJanitor time.Duration
	StaleJanitor time.Duration
	Strategy     time.Duration
}

// Config configures the engine.
type Config struct {
	Queries            []string
	DiscoveryLimit     int
	DeepScanCandidates int
	Concurrency        int
	StaleRecordAge     time.Duration
	Limits             Limits // initial policy
	Drawdown           risk.Drawdown
	Intervals          Intervals
	WalletDefaults     domain.BotConfig
}

// Deps are the engine collaborators.
type Deps struct {
	Store        storage.Storage
	Market       MarketData
	Consensus    Decider
	Risk         RiskScreen
	Portfolio    Valuer
	Positions    Lifecycle
	Strategies   Strategies
	Providers    ProviderPool
	SolUSD       USDQuote // optional
	Discovery    *cache.Discovery
	Analysis     *cache.Analysis[consensus.Result]
	Fingerprints *cache.Fingerprints
	Bus          events.Publisher
	Clock        clock.Clock
}

// Engine drives discovery, entries, exits and housekeeping through scheduled
// jobs. Work on one wallet is serialized by a per-wallet lock.
type Engine struct {
	d       Deps
	cfg     Config
	wallets *keylock.Map
	logger  *zap.Logger

	policy atomic.Pointer[Policy]

	mu        sync.RWMutex
	shortlist []domain.TokenSnapshot
}

// Policy is the part of the configuration that can change while running.
type Policy struct {
	Limits   Limits
	Drawdown risk.Drawdown
}

// NewEngine creates an engine.
func NewEngine(d Deps, cfg Config, log *zap.Logger) *Engine {
	if d.Bus == nil {
		d.Bus = events.Discard
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DeepScanCandidates <= 0 {
		cfg.DeepScanCandidates = 10
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"SOL"}
	}
	e := &Engine{
		d:       d,
		cfg:     cfg,
		wallets: keylock.New(),
		logger:  log.Named("engine"),
	}
	e.policy.Store(&Policy{Limits: cfg.Limits, Drawdown: cfg.Drawdown})
	return e
}

// SetPolicy swaps the trading limits. Scans already in flight finish on the
// previous values.
func (e *Engine) SetPolicy(p Policy) {
	e.policy.Store(&p)
	e.logger.Info("Trading policy updated",
		zap.Float64("min_trade", p.Limits.MinTrade),
		zap.Float64("concentration_pct", p.Limits.Portfolio.ConcentrationPct),
		zap.Float64("drawdown_pause_pct", p.Drawdown.PausePct))
}

func (e *Engine) limits() Limits { return e.policy.Load().Limits }

// Shortlist returns the candidates picked by the last fast scan.
func (e *Engine) Shortlist() []domain.TokenSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.TokenSnapshot(nil), e.shortlist...)
}

func (e *Engine) setShortlist(tokens []domain.TokenSnapshot) {
	e.mu.Lock()
	e.shortlist = tokens
	e.mu.Unlock()
}

// SeedWallets creates an enabled BotConfig for every address that has none.
func (e *Engine) SeedWallets(ctx context.Context, addresses []string) (int, error) {
	seeded := 0
	for _, addr := range addresses {
		_, err := e.d.Store.GetConfig(ctx, addr)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return seeded, err
		}
		cfg := e.cfg.WalletDefaults
		cfg.Wallet = addr
		cfg.Enabled = true
		cfg.UpdatedAt = e.d.Clock.Now()
		if err := e.d.Store.SaveConfig(ctx, &cfg); err != nil {
			return seeded, err
		}
		seeded++
		logger.WithWallet(e.logger, addr).Info("Wallet enabled with default config",
			zap.Float64("total_budget", cfg.TotalBudget),
			zap.Float64("max_trade_pct", cfg.MaxTradePct))
	}
	return seeded, nil
}

// strategy returns the active strategy, or nil when it cannot be loaded.
// Scans then run on the static limits alone.
func (e *Engine) strategy(ctx context.Context) *domain.Strategy {
	st, err := e.d.Strategies.Active(ctx)
	if err != nil {
		e.logger.Warn("No active strategy, using static limits", zap.Error(err))
		return nil
	}
	return st
}

// refreshDrawdown folds the current valuation into the wallet's peak and
// pause flag, persists the change and announces transitions. Must be called
// with the wallet lock held.
func (e *Engine) refreshDrawdown(ctx context.Context, cfg *domain.BotConfig, value float64) risk.DrawdownCheck {
	peak, paused := cfg.PeakValue, cfg.Paused
	check := e.policy.Load().Drawdown.Update(cfg, value)
	log := logger.WithWallet(e.logger, cfg.Wallet)

	if cfg.PeakValue != peak || cfg.Paused != paused {
		cfg.UpdatedAt = e.d.Clock.Now()
		if err := e.d.Store.SaveConfig(ctx, cfg); err != nil {
			log.Error("Failed to persist drawdown state", zap.Error(err))
		}
	}
	if check.Transition != "" {
		log.Warn("Drawdown state changed", append(check.Verdict.Fields(), zap.String("transition", check.Transition))...)
		_ = e.d.Bus.Publish(events.DrawdownChangedEvent{
			BaseEvent:   events.NewBase(events.DrawdownChanged, e.d.Clock.Now()),
			Wallet:      cfg.Wallet,
			Paused:      cfg.Paused,
			DrawdownPct: check.DrawdownPct,
			PeakValue:   cfg.PeakValue,
		})
	}
	return check
}

func (e *Engine) blocked(wallet, token string, v logger.Verdict) {
	_ = e.d.Bus.Publish(events.GateBlockedEvent{
		BaseEvent: events.NewBase(events.GateBlocked, e.d.Clock.Now()),
		Wallet:    wallet,
		Token:     token,
		Gate:      v.Gate,
		Reason:    v.Reason,
	})
}

// exitSnapshot captures market context for the journal.
func (e *Engine) exitSnapshot(token string, price float64) domain.JournalSnapshot {
	s := domain.JournalSnapshot{Price: price}
	if snap, ok := e.d.Discovery.Snapshot(token); ok {
		s.LiquidityUSD = snap.LiquidityUSD
		s.Volume24h = snap.Volume24h
		s.Change24h = snap.Change24h
	}
	return s
}

// tokenSnapshot returns the freshest known market view of token, falling back
// to a bare snapshot carrying only the price.
func (e *Engine) tokenSnapshot(p *domain.Position, price float64) domain.TokenSnapshot {
	if snap, ok := e.d.Discovery.Snapshot(p.Token); ok {
		return snap
	}
	return domain.TokenSnapshot{Address: p.Token, Symbol: p.Symbol, PriceNative: price, FetchedAt: e.d.Clock.Now()}
}
