// internal/metrics/metrics.go
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
)

const namespace = "autotrader"

// Collector управляет набором метрик бота на собственном реестре.
type Collector struct {
	registry *prometheus.Registry

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobSkipped  *prometheus.CounterVec

	consensusDecisions *prometheus.CounterVec
	consensusConf      prometheus.Histogram
	providerHealth     *prometheus.GaugeVec
	providerDisabled   *prometheus.GaugeVec

	gateBlocks     *prometheus.CounterVec
	trades         *prometheus.CounterVec
	tradeFailures  *prometheus.CounterVec
	realizedProfit prometheus.Histogram

	portfolioValue *prometheus.GaugeVec
	portfolioUSD   *prometheus.GaugeVec
	availableSOL   *prometheus.GaugeVec
	openPositions  *prometheus.GaugeVec
	paused         *prometheus.GaugeVec
}

// NewCollector создает новый экземпляр коллектора метрик.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_runs_total",
			Help: "Scheduled job runs by result",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"job"}),
		jobSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_skipped_total",
			Help: "Ticks skipped because the previous run was still in flight",
		}, []string{"job"}),
		consensusDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consensus", Name: "decisions_total",
			Help: "Consensus outcomes by prompt kind and action",
		}, []string{"kind", "action", "outcome"}),
		consensusConf: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "consensus", Name: "confidence",
			Help:    "Confidence of decided consensus results",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		providerHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "advisor", Name: "health",
			Help: "Rolling provider health score",
		}, []string{"provider"}),
		providerDisabled: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "advisor", Name: "disabled",
			Help: "1 while the provider circuit breaker is open",
		}, []string{"provider"}),
		gateBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "gate_blocks_total",
			Help: "Candidates rejected per gate",
		}, []string{"gate"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "trades_total",
			Help: "Executed trades by side",
		}, []string{"side", "reason"}),
		tradeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "trade_failures_total",
			Help: "Swaps that did not execute",
		}, []string{"direction"}),
		realizedProfit: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "trading", Name: "realized_profit_pct",
			Help:    "Realized profit percentage of closed positions",
			Buckets: []float64{-50, -25, -10, -5, -2, 0, 2, 5, 10, 25, 50, 100},
		}),
		portfolioValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "total_value_sol",
			Help: "Wallet SOL plus marked position value",
		}, []string{"wallet"}),
		portfolioUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "total_value_usd",
			Help: "Portfolio value at the last SOL/USD quote",
		}, []string{"wallet"}),
		availableSOL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "available_sol",
			Help: "SOL available for new entries",
		}, []string{"wallet"}),
		openPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "open_positions",
			Help: "Active positions per wallet",
		}, []string{"wallet"}),
		paused: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "risk", Name: "trading_paused",
			Help: "1 while the drawdown breaker holds new entries",
		}, []string{"wallet"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobFinished записывает результат запуска задачи планировщика.
func (c *Collector) JobFinished(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.jobRuns.WithLabelValues(name, result).Inc()
	c.jobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// JobSkipped counts an overlapping tick.
func (c *Collector) JobSkipped(name string) {
	c.jobSkipped.WithLabelValues(name).Inc()
}

// ConsensusDecided records a tally.
func (c *Collector) ConsensusDecided(kind string, r consensus.Result) {
	outcome := "decided"
	switch {
	case r.Insufficient:
		outcome = "insufficient"
	case r.Split:
		outcome = "split"
	default:
		c.consensusConf.Observe(r.Confidence)
	}
	c.consensusDecisions.WithLabelValues(kind, string(r.Action), outcome).Inc()
}

// ProviderChanged mirrors the advisor registry health state.
func (c *Collector) ProviderChanged(p advisor.Provider, now time.Time) {
	c.providerHealth.WithLabelValues(p.Name).Set(p.Health)
	disabled := 0.0
	if p.Disabled(now) {
		disabled = 1
	}
	c.providerDisabled.WithLabelValues(p.Name).Set(disabled)
}

// Handle implements events.Handler; subscribe it to events.All.
func (c *Collector) Handle(_ context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.PositionOpenedEvent:
		c.trades.WithLabelValues("buy", e.Mode).Inc()
	case events.PositionReboughtEvent:
		c.trades.WithLabelValues("buy", "rebuy").Inc()
	case events.PositionClosedEvent:
		c.trades.WithLabelValues("sell", e.Reason).Inc()
		c.realizedProfit.Observe(e.ProfitPct)
	case events.TradeFailedEvent:
		c.tradeFailures.WithLabelValues(e.Direction).Inc()
	case events.GateBlockedEvent:
		c.gateBlocks.WithLabelValues(e.Gate).Inc()
	case events.PortfolioUpdatedEvent:
		c.portfolioValue.WithLabelValues(e.Wallet).Set(e.TotalValue)
		c.availableSOL.WithLabelValues(e.Wallet).Set(e.Available)
		c.openPositions.WithLabelValues(e.Wallet).Set(float64(e.Positions))
		if e.ValueUSD > 0 {
			c.portfolioUSD.WithLabelValues(e.Wallet).Set(e.ValueUSD)
		}
	case events.DrawdownChangedEvent:
		v := 0.0
		if e.Paused {
			v = 1
		}
		c.paused.WithLabelValues(e.Wallet).Set(v)
	case events.ProviderStatusEvent:
		c.providerHealth.WithLabelValues(e.Provider).Set(e.Health)
		v := 0.0
		if e.Disabled {
			v = 1
		}
		c.providerDisabled.WithLabelValues(e.Provider).Set(v)
	}
	return nil
}
