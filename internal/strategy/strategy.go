// internal/strategy/strategy.go
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// Config holds the regeneration inputs.
type Config struct {
	Window          int
	Validity        time.Duration
	MaxTradesPerDay int
	MinLiquidityUSD float64
	MinVolumeUSD    float64
}

// minSamples below which the journal is too thin to lean either way.
const minSamples = 5

type profile struct {
	minConfidence float64
	minUpside     float64
	minQuality    float64
	floorMult     float64
	budgetMult    float64
	tradesMult    float64
}

var profiles = map[domain.RiskLevel]profile{
	domain.RiskLow:    {minConfidence: 0.70, minUpside: 10, minQuality: 60, floorMult: 2, budgetMult: 0.5, tradesMult: 0.5},
	domain.RiskMedium: {minConfidence: 0.60, minUpside: 5, minQuality: 50, floorMult: 1, budgetMult: 1, tradesMult: 1},
	domain.RiskHigh:   {minConfidence: 0.55, minUpside: 3, minQuality: 40, floorMult: 0.75, budgetMult: 1.5, tradesMult: 1.5},
}

// Stats summarises a journal window.
type Stats struct {
	Samples    int
	WinRate    float64
	MeanReturn float64
	MeanSolIn  float64
}

// Summarise computes win rate and mean return over entries.
func Summarise(entries []*domain.JournalEntry) Stats {
	s := Stats{Samples: len(entries)}
	if s.Samples == 0 {
		return s
	}
	var wins int
	var ret, in float64
	for _, e := range entries {
		if e.Outcome == domain.OutcomeWin {
			wins++
		}
		ret += e.ProfitPct
		in += e.SolIn
	}
	n := float64(s.Samples)
	s.WinRate = float64(wins) / n
	s.MeanReturn = ret / n
	s.MeanSolIn = in / n
	return s
}

// Classify maps journal stats to a sentiment and risk level.
func Classify(s Stats) (domain.Sentiment, domain.RiskLevel) {
	switch {
	case s.Samples < minSamples:
		return domain.SentimentNeutral, domain.RiskMedium
	case s.WinRate >= 0.6 && s.MeanReturn > 0:
		return domain.SentimentBullish, domain.RiskHigh
	case s.WinRate < 0.4 || s.MeanReturn < -5:
		return domain.SentimentBearish, domain.RiskLow
	default:
		return domain.SentimentNeutral, domain.RiskMedium
	}
}

// Generate builds a new strategy from recent round trips. It is a pure
// function of its inputs.
func Generate(entries []*domain.JournalEntry, now time.Time, cfg Config) *domain.Strategy {
	stats := Summarise(entries)
	sentiment, risk := Classify(stats)
	p := profiles[risk]

	var budget float64
	if stats.Samples >= minSamples {
		budget = stats.MeanSolIn * p.budgetMult
	}
	trades := int(math.Round(float64(cfg.MaxTradesPerDay) * p.tradesMult))
	if trades < 1 && cfg.MaxTradesPerDay > 0 {
		trades = 1
	}

	return &domain.Strategy{
		ID:              uuid.NewString(),
		MinConfidence:   p.minConfidence,
		MinUpsidePct:    p.minUpside,
		MinLiquidityUSD: cfg.MinLiquidityUSD * p.floorMult,
		MinVolumeUSD:    cfg.MinVolumeUSD * p.floorMult,
		MinQuality:      p.minQuality,
		BudgetPerTrade:  budget,
		MaxTradesPerDay: trades,
		RiskLevel:       risk,
		Sentiment:       sentiment,
		WinRate:         stats.WinRate,
		Samples:         stats.Samples,
		CreatedAt:       now,
		ValidUntil:      now.Add(cfg.Validity),
	}
}

// Store is the storage subset used by Service.
type Store interface {
	RecentJournal(ctx context.Context, limit int) ([]*domain.JournalEntry, error)
	ActiveStrategy(ctx context.Context, now time.Time) (*domain.Strategy, error)
	SaveStrategy(ctx context.Context, s *domain.Strategy) error
}

// Service regenerates and serves the active strategy.
type Service struct {
	store  Store
	bus    events.Publisher
	clock  clock.Clock
	cfg    Config
	logger *zap.Logger
}

// NewService creates a strategy service.
func NewService(store Store, bus events.Publisher, clk clock.Clock, cfg Config, logger *zap.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = 50
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 6 * time.Hour
	}
	return &Service{store: store, bus: bus, clock: clk, cfg: cfg, logger: logger.Named("strategy")}
}

// Regenerate supersedes the active strategy with one built from the journal.
func (s *Service) Regenerate(ctx context.Context) (*domain.Strategy, error) {
	entries, err := s.store.RecentJournal(ctx, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	now := s.clock.Now()
	st := Generate(entries, now, s.cfg)
	if err := s.store.SaveStrategy(ctx, st); err != nil {
		return nil, fmt.Errorf("save strategy: %w", err)
	}

	s.logger.Info("Strategy regenerated",
		zap.String("strategy_id", st.ID),
		zap.String("risk", string(st.RiskLevel)),
		zap.String("sentiment", string(st.Sentiment)),
		zap.Float64("win_rate", st.WinRate),
		zap.Int("samples", st.Samples),
		zap.Float64("min_confidence", st.MinConfidence))

	_ = s.bus.Publish(events.StrategyUpdatedEvent{
		BaseEvent:     events.NewBase(events.StrategyUpdated, now),
		StrategyID:    st.ID,
		MinConfidence: st.MinConfidence,
		RiskLevel:     string(st.RiskLevel),
		Sentiment:     string(st.Sentiment),
		WinRate:       st.WinRate,
	})
	return st, nil
}

// Active returns the strategy in force. When none is valid a fresh one is
// generated so scans always have thresholds.
func (s *Service) Active(ctx context.Context) (*domain.Strategy, error) {
	st, err := s.store.ActiveStrategy(ctx, s.clock.Now())
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.Regenerate(ctx)
}
