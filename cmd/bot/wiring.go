// ====================================
// File: cmd/bot/wiring.go
// ====================================
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/blockchain"
	"github.com/rovshanmuradov/solana-autotrader/internal/bot"
	"github.com/rovshanmuradov/solana-autotrader/internal/cache"
	"github.com/rovshanmuradov/solana-autotrader/internal/config"
	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/dex"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/health"
	"github.com/rovshanmuradov/solana-autotrader/internal/market"
	"github.com/rovshanmuradov/solana-autotrader/internal/metrics"
	"github.com/rovshanmuradov/solana-autotrader/internal/notify"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/position"
	"github.com/rovshanmuradov/solana-autotrader/internal/risk"
	"github.com/rovshanmuradov/solana-autotrader/internal/rotation"
	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
	"github.com/rovshanmuradov/solana-autotrader/internal/sizing"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage/memory"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-autotrader/internal/strategy"
	"github.com/rovshanmuradov/solana-autotrader/internal/wallet"
)

type runOptions struct {
	TUI bool
}

// panels holds the two advisor registries: the entry/position panel and the
// loss-probability panel.
type panels struct {
	Trading *advisor.Registry
	Risk    *advisor.Registry
}

func (p panels) Reenable() int { return p.Trading.Reenable() + p.Risk.Reenable() }

func infraModule() fx.Option {
	return fx.Module("infra",
		fx.Provide(
			func() clock.Clock { return clock.New() },
			newStore,
			func(cfg *config.Config, log *zap.Logger) *blockchain.Client {
				return blockchain.NewClient(cfg.Solana.RPCURL, log)
			},
			func(cfg *config.Config, log *zap.Logger) (*wallet.KeyRing, error) {
				return wallet.Load(cfg.WalletsFile, log)
			},
			func(cfg *config.Config, log *zap.Logger) *events.Bus {
				return events.NewBus(log, cfg.Notify.BufferSize)
			},
			func(b *events.Bus) events.Publisher { return b },
			metrics.NewCollector,
			newTelegram,
			func(cfg *config.Config, log *zap.Logger) *notify.Hub {
				return notify.NewHub(cfg.Notify.BufferSize, log)
			},
			func(clk clock.Clock, m *metrics.Collector, log *zap.Logger) *scheduler.Scheduler {
				return scheduler.New(log, scheduler.WithClock(clk), scheduler.WithRecorder(m))
			},
			func(clk clock.Clock, s *scheduler.Scheduler) *health.State {
				return health.NewState(clk, s)
			},
		),
	)
}

func tradingModule() fx.Option {
	return fx.Module("trading",
		fx.Provide(
			func(cfg *config.Config, clk clock.Clock, log *zap.Logger) *market.DexScreener {
				return market.NewDexScreener(market.Config{
					BaseURL:       cfg.Market.BaseURL,
					RatePerMinute: cfg.Market.RatePerMinute,
					Timeout:       cfg.Market.Timeout,
					Retries:       cfg.Market.Retries,
					Concurrency:   cfg.Scheduler.ScanConcurrency,
					BatchSize:     cfg.Portfolio.PriceBatch,
				}, clk, log)
			},
			func(cfg *config.Config, clk clock.Clock, log *zap.Logger) *market.SolUSD {
				return market.NewSolUSD(cfg.Market.BinanceSymbol, time.Minute, clk, log)
			},
			newExecutor,
			newPanels,
			func(cfg *config.Config, p panels, m *metrics.Collector, log *zap.Logger) *consensus.Engine {
				return consensus.NewEngine(p.Trading, consensus.Config{
					Quorum:           cfg.Consensus.Quorum,
					Supermajority:    cfg.Consensus.Supermajority,
					ReasoningSources: cfg.Consensus.ReasoningSources,
				}, log, m)
			},
			func(cfg *config.Config, p panels, clk clock.Clock, log *zap.Logger) *risk.LossScreen {
				return risk.NewLossScreen(p.Risk, lossConfig(cfg), ruleConfig(cfg), clk.Now, log)
			},
			func(cfg *config.Config, ds *market.DexScreener, chain *blockchain.Client, clk clock.Clock, log *zap.Logger) *portfolio.Analyzer {
				return portfolio.NewAnalyzer(ds, chain, portfolioConfig(cfg), clk.Now, log)
			},
			func(cfg *config.Config, store storage.Storage, exec dex.Executor, bus events.Publisher, clk clock.Clock, log *zap.Logger) *position.Manager {
				return position.NewManager(store, exec, bus, clk, positionConfig(cfg), log)
			},
			func(cfg *config.Config, store storage.Storage, bus events.Publisher, clk clock.Clock, log *zap.Logger) *strategy.Service {
				return strategy.NewService(store, bus, clk, strategy.Config{
					Window:          cfg.Strategy.Window,
					Validity:        cfg.Strategy.Validity,
					MaxTradesPerDay: cfg.Strategy.MaxTradesPerDay,
					MinLiquidityUSD: cfg.Strategy.MinLiquidityUSD,
					MinVolumeUSD:    cfg.Strategy.MinVolumeUSD,
				}, log)
			},
			func(cfg *config.Config, clk clock.Clock, log *zap.Logger) *cache.Discovery {
				return cache.NewDiscovery(clk, cfg.Cache.DiscoveryTTL, log)
			},
			func(cfg *config.Config, clk clock.Clock, log *zap.Logger) *cache.Analysis[consensus.Result] {
				return cache.NewAnalysis[consensus.Result](clk, cache.AnalysisPolicy{
					MaxAge:        cfg.Cache.AnalysisMaxAge,
					PriceMovePct:  cfg.Cache.AnalysisPriceMove,
					ProfitMovePct: cfg.Cache.AnalysisProfitMove,
				}, log)
			},
			func(cfg *config.Config, clk clock.Clock) *cache.Fingerprints {
				return cache.NewFingerprints(clk, cache.FingerprintPolicy{
					PricePct:    cfg.Cache.FingerprintPrice,
					ProfitPct:   cfg.Cache.FingerprintProfit,
					MinInterval: cfg.Cache.FingerprintInterval,
				})
			},
			newEngine,
		),
	)
}

func newStore(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		log.Warn("Using in-memory store, positions are lost on restart")
		return memory.New(), nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return postgres.NewStorage(ctx, cfg.Store.PostgresURL, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newTelegram returns nil when no token is configured; the nil notifier
// drops every message.
func newTelegram(cfg *config.Config, store storage.Storage, log *zap.Logger) (*notify.Telegram, error) {
	if cfg.Notify.TelegramToken == "" {
		return nil, nil
	}
	return notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, store, log)
}

func newExecutor(cfg *config.Config, ds *market.DexScreener, keys *wallet.KeyRing, chain *blockchain.Client, log *zap.Logger) dex.Executor {
	if cfg.Dex.DryRun {
		log.Warn("Dry run: swaps are simulated at market prices")
		return dex.NewPaperExecutor(ds, cfg.Position.SlippageBps, log)
	}
	primary := dex.NewJupiterExecutor(dex.JupiterConfig{
		Name:        "jupiter",
		BaseURL:     cfg.Dex.PrimaryURL,
		PriorityFee: cfg.Dex.PriorityFee,
		Timeout:     cfg.Dex.Timeout,
	}, keys, chain, chain, log)
	var secondary dex.Executor
	if cfg.Dex.SecondaryURL != "" {
		secondary = dex.NewJupiterExecutor(dex.JupiterConfig{
			Name:        "jupiter-lite",
			BaseURL:     cfg.Dex.SecondaryURL,
			PriorityFee: cfg.Dex.PriorityFee,
			Timeout:     cfg.Dex.Timeout,
		}, keys, chain, chain, log)
	}
	return dex.NewFallbackExecutor(primary, secondary, log)
}

func newPanels(cfg *config.Config, clk clock.Clock, log *zap.Logger) (panels, error) {
	policy := advisor.HealthPolicy{
		Start:    100,
		Floor:    cfg.Consensus.HealthFloor,
		Penalty:  cfg.Consensus.FailurePenalty,
		Reward:   cfg.Consensus.SuccessReward,
		Cooldown: cfg.Consensus.ExhaustCooldown,
	}
	p := panels{
		Trading: advisor.NewRegistry(clk, policy, log),
		Risk:    advisor.NewRegistry(clk, policy, log.Named("risk")),
	}
	for _, a := range cfg.Advisors {
		adv := advisor.NewHTTPAdvisor(advisor.HTTPConfig{
			Name:          a.Name,
			BaseURL:       a.BaseURL,
			Model:         a.Model,
			APIKey:        a.APIKey,
			Timeout:       a.Timeout,
			RatePerMinute: a.RatePerMinute,
			MaxTries:      3,
		}, log)
		reg := p.Trading
		if a.RiskPanel {
			reg = p.Risk
		}
		if err := reg.Register(adv, a.Weight); err != nil {
			return panels{}, fmt.Errorf("advisor %s: %w", a.Name, err)
		}
	}
	log.Info("Advisors registered", zap.Int("trading", p.Trading.Len()), zap.Int("risk_panel", p.Risk.Len()))
	return p, nil
}

type engineParams struct {
	fx.In

	Config     *config.Config
	Store      storage.Storage
	Market     *market.DexScreener
	SolUSD     *market.SolUSD
	Consensus  *consensus.Engine
	Risk       *risk.LossScreen
	Portfolio  *portfolio.Analyzer
	Positions  *position.Manager
	Strategies *strategy.Service
	Panels     panels
	Discovery  *cache.Discovery
	Analysis   *cache.Analysis[consensus.Result]
	Prints     *cache.Fingerprints
	Bus        events.Publisher
	Clock      clock.Clock
	Logger     *zap.Logger
}

func newEngine(p engineParams) *bot.Engine {
	cfg := p.Config
	log := p.Logger
	return bot.NewEngine(bot.Deps{
		Store:        p.Store,
		Market:       p.Market,
		Consensus:    p.Consensus,
		Risk:         p.Risk,
		Portfolio:    p.Portfolio,
		Positions:    p.Positions,
		Strategies:   p.Strategies,
		Providers:    p.Panels,
		SolUSD:       p.SolUSD,
		Discovery:    p.Discovery,
		Analysis:     p.Analysis,
		Fingerprints: p.Prints,
		Bus:          p.Bus,
		Clock:        p.Clock,
	}, engineConfig(cfg), log)
}

func engineConfig(cfg *config.Config) bot.Config {
	pol := policy(cfg)
	return bot.Config{
		Queries:            cfg.Market.Queries,
		DiscoveryLimit:     cfg.Market.DiscoveryLimit,
		DeepScanCandidates: cfg.Scheduler.DeepScanMaxSlots,
		Concurrency:        cfg.Scheduler.ScanConcurrency,
		StaleRecordAge:     cfg.Scheduler.StaleRecordAge,
		Limits:             pol.Limits,
		Drawdown:           pol.Drawdown,
		Intervals: bot.Intervals{
			FastScan:     cfg.Scheduler.FastScan,
			DeepScan:     cfg.Scheduler.DeepScan,
			Monitor:      cfg.Scheduler.PositionMonitor,
			Rebalance:    cfg.Scheduler.Rebalance,
			CacheJanitor: cfg.Scheduler.CacheJanitor,
			StaleJanitor: cfg.Scheduler.StaleJanitor,
			Strategy:     cfg.Scheduler.StrategyRefresh,
		},
		WalletDefaults: domain.BotConfig{
			TotalBudget:    cfg.Wallet.TotalBudget,
			MaxTradePct:    cfg.Wallet.MaxTradePct,
			FeeExempt:      cfg.Wallet.FeeExempt,
			DrawdownBypass: cfg.Wallet.DrawdownBypass,
		},
	}
}

// policy extracts the limits that a config reload may change live.
func policy(cfg *config.Config) bot.Policy {
	return bot.Policy{
		Limits: bot.Limits{
			Modes:     sizing.DefaultModes(),
			Portfolio: portfolioConfig(cfg),
			Rotation: rotation.Config{
				MinHold:           cfg.Rotation.MinHold,
				MinConfidence:     cfg.Rotation.MinConfidence,
				MarginPoints:      cfg.Rotation.MarginPoints,
				LossPct:           cfg.Rotation.LossPct,
				LossMinConfidence: cfg.Rotation.LossMinConfidence,
				EmergencySOL:      cfg.Rotation.EmergencySOL,
				Haircut:           cfg.Rotation.Haircut,
				SmallProfitPct:    cfg.Rotation.SmallProfitPct,
				OutrankedPenalty:  cfg.Rotation.OutrankedPenalty,
			},
			MinTrade: cfg.Portfolio.MinTradeSOL,
		},
		Drawdown: risk.Drawdown{PausePct: cfg.Risk.DrawdownPause, ResumePct: cfg.Risk.DrawdownResume},
	}
}

func portfolioConfig(cfg *config.Config) portfolio.Config {
	return portfolio.Config{
		DeployablePct:    cfg.Portfolio.DeployablePct,
		ConcentrationPct: cfg.Portfolio.ConcentrationPct,
		ReservePct:       cfg.Portfolio.ReservePct,
		ReserveMin:       cfg.Portfolio.ReserveMin,
		ReserveMax:       cfg.Portfolio.ReserveMax,
	}
}

func positionConfig(cfg *config.Config) position.Config {
	p := cfg.Position
	return position.Config{
		Exit: position.ExitConfig{
			TrailingArmPct:      p.TrailingArmPct,
			TrailingDistancePct: p.TrailingDistancePct,
			AdvisorStreak:       p.AdvisorStreak,
			LowConfidence:       p.LowConfidence,
			AdvisorSellMinConf:  p.AdvisorSellMinConf,
		},
		Add: position.AddConfig{
			RebuyDipPct:        p.RebuyDipPct,
			RebuyCap:           p.RebuyCap,
			AccumulateConf:     p.AccumulateConf,
			AccumulateMaxStake: p.AccumulateMaxStake,
			AccumulateMaxLoss:  p.AccumulateMaxLoss,
		},
		LostTrackAfter: p.LostTrackAfter,
		PlatformFeeBps: p.PlatformFeeBps,
		SlippageBps:    p.SlippageBps,
	}
}

func lossConfig(cfg *config.Config) risk.LossConfig {
	return risk.LossConfig{
		ExtremePct:          cfg.Risk.ExtremeLossPct,
		HighPct:             cfg.Risk.HighLossPct,
		MajoritySizeFactor:  cfg.Risk.MajoritySize,
		StrongSizeFactor:    cfg.Risk.StrongSize,
		StopTighteningRatio: cfg.Risk.StopTightening,
	}
}

func ruleConfig(cfg *config.Config) risk.RuleConfig {
	return risk.RuleConfig{
		MinLiquidityUSD: cfg.Risk.MinLiquidityUSD,
		SpikePct:        cfg.Risk.SpikePct,
		MinAge:          cfg.Risk.MinAge,
		DumpPct:         cfg.Risk.DumpPct,
	}
}
