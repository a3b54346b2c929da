// ====================================
// File: cmd/bot/lifecycle.go
// ====================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/bot"
	"github.com/rovshanmuradov/solana-autotrader/internal/cache"
	"github.com/rovshanmuradov/solana-autotrader/internal/config"
	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/health"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/metrics"
	"github.com/rovshanmuradov/solana-autotrader/internal/notify"
	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
	"github.com/rovshanmuradov/solana-autotrader/internal/ui"
	"github.com/rovshanmuradov/solana-autotrader/internal/wallet"
)

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Options    runOptions
	Loader     *config.Loader
	Config     *config.Config
	Logger     *zap.Logger
	Ring       *logger.Ring
	Clock      clock.Clock
	Store      storage.Storage
	Keys       *wallet.KeyRing
	Bus        *events.Bus
	Metrics    *metrics.Collector
	Hub        *notify.Hub
	Telegram   *notify.Telegram
	Scheduler  *scheduler.Scheduler
	Health     *health.State
	Panels     panels
	Engine     *bot.Engine
	Discovery  *cache.Discovery
	Analysis   *cache.Analysis[consensus.Result]
}

func registerLifecycle(p lifecycleParams) {
	log := p.Logger
	var (
		cancel  context.CancelFunc
		servers []*health.Server
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// ctx хука живет только до конца старта
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			p.Bus.Subscribe(events.All, p.Metrics)
			p.Bus.Subscribe(events.All, p.Hub)
			if p.Telegram != nil {
				p.Bus.Subscribe(events.All, p.Telegram)
			}
			for _, reg := range []*advisor.Registry{p.Panels.Trading, p.Panels.Risk} {
				reg.OnChange(func(pr advisor.Provider) {
					now := p.Clock.Now()
					p.Metrics.ProviderChanged(pr, now)
					_ = p.Bus.Publish(events.ProviderStatusEvent{
						BaseEvent: events.NewBase(events.ProviderStatus, now),
						Provider:  pr.Name,
						Health:    pr.Health,
						Disabled:  pr.Disabled(now),
						Reason:    pr.LastError,
					})
				})
			}

			seeded, err := p.Engine.SeedWallets(ctx, p.Keys.Addresses())
			if err != nil {
				return fmt.Errorf("seed wallets: %w", err)
			}
			log.Info("Wallets ready", zap.Int("loaded", p.Keys.Len()), zap.Int("new", seeded))

			if err := p.Engine.Register(p.Scheduler); err != nil {
				return err
			}

			p.Health.AddDetail("events", func() any { return p.Bus.Stats() })
			p.Health.AddDetail("caches", func() any {
				de, dh, dm := p.Discovery.Stats()
				ae, ah, am := p.Analysis.Stats()
				return map[string]map[string]uint64{
					"discovery": {"entries": uint64(de), "hits": dh, "misses": dm},
					"analysis":  {"entries": uint64(ae), "hits": ah, "misses": am},
				}
			})
			p.Health.AddDetail("advisors", func() any {
				now := p.Clock.Now()
				out := make(map[string]any)
				for _, pr := range append(p.Panels.Trading.Snapshot(), p.Panels.Risk.Snapshot()...) {
					out[pr.Name] = map[string]any{"health": pr.Health, "disabled": pr.Disabled(now)}
				}
				return out
			})

			// /ws shares the API listener unless a separate address is set
			apiRoutes := map[string]http.Handler{"/metrics": p.Metrics.Handler()}
			wsAddr := p.Config.Notify.WebsocketAddr
			if wsAddr == "" || wsAddr == p.Config.Metrics.Addr {
				apiRoutes["/ws"] = p.Hub
				wsAddr = ""
			}
			api := health.NewServer(p.Config.Metrics.Addr, health.NewMux(p.Health, apiRoutes), log)
			if err := api.Start(ctx); err != nil {
				return fmt.Errorf("http %s: %w", p.Config.Metrics.Addr, err)
			}
			servers = append(servers, api)
			if wsAddr != "" {
				ws := health.NewServer(wsAddr, health.NewMux(p.Health, map[string]http.Handler{"/ws": p.Hub}), log)
				if err := ws.Start(ctx); err != nil {
					return fmt.Errorf("websocket %s: %w", wsAddr, err)
				}
				servers = append(servers, ws)
			}

			p.Scheduler.Start(runCtx)
			p.Telegram.Start(runCtx)

			p.Loader.Watch(func(c *config.Config) {
				p.Engine.SetPolicy(policy(c))
			}, func(err error) {
				log.Warn("Config reload rejected", zap.Error(err))
			})

			p.Health.SetReady(true)
			_ = p.Telegram.Send(fmt.Sprintf("🤖 Autotrader started: %d wallets, dry run %v", p.Keys.Len(), p.Config.Dex.DryRun))

			if p.Options.TUI {
				go func() {
					m := ui.NewModel(p.Scheduler, p.Store, p.Ring, time.Second)
					if err := ui.Run(runCtx, m); err != nil && runCtx.Err() == nil {
						log.Error("Status screen failed", zap.Error(err))
					}
					_ = p.Shutdowner.Shutdown()
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Health.SetReady(false)
			if cancel != nil {
				cancel()
			}

			// LIFO: scheduler first, store last
			sh := bot.NewShutdownHandler(log)
			sh.Add("store", p.Store)
			sh.AddFunc("event bus", func() error { return p.Bus.Shutdown(ctx) })
			sh.Add("websocket hub", p.Hub)
			for i, s := range servers {
				sh.AddFunc(fmt.Sprintf("http server %d", i), func() error { return s.Stop(ctx) })
			}
			sh.AddFunc("scheduler", func() error { return p.Scheduler.Shutdown(ctx) })
			return sh.Shutdown(ctx)
		},
	})
}
