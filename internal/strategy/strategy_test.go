package strategy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage/memory"
)

var testCfg = Config{
	Window:          50,
	Validity:        6 * time.Hour,
	MaxTradesPerDay: 20,
	MinLiquidityUSD: 25000,
	MinVolumeUSD:    50000,
}

func journal(profits ...float64) []*domain.JournalEntry {
	out := make([]*domain.JournalEntry, 0, len(profits))
	for _, p := range profits {
		out = append(out, &domain.JournalEntry{ProfitPct: p, SolIn: 0.1, Outcome: domain.ClassifyOutcome(p)})
	}
	return out
}

func TestGenerate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("thin journal stays neutral", func(t *testing.T) {
		s := Generate(journal(50, 40), now, testCfg)
		assert.Equal(t, domain.SentimentNeutral, s.Sentiment)
		assert.Equal(t, domain.RiskMedium, s.RiskLevel)
		assert.Zero(t, s.BudgetPerTrade)
		assert.Equal(t, 20, s.MaxTradesPerDay)
		assert.Equal(t, now.Add(6*time.Hour), s.ValidUntil)
	})

	t.Run("winning streak is bullish", func(t *testing.T) {
		s := Generate(journal(10, 12, 8, 5, -3, 20), now, testCfg)
		assert.Equal(t, domain.SentimentBullish, s.Sentiment)
		assert.Equal(t, domain.RiskHigh, s.RiskLevel)
		assert.Equal(t, 0.55, s.MinConfidence)
		assert.Equal(t, 30, s.MaxTradesPerDay)
		assert.InDelta(t, 0.15, s.BudgetPerTrade, 1e-9)
		assert.InDelta(t, 5.0/6.0, s.WinRate, 1e-9)
	})

	t.Run("losing streak is bearish", func(t *testing.T) {
		s := Generate(journal(-10, -12, 3, -5, -8), now, testCfg)
		assert.Equal(t, domain.SentimentBearish, s.Sentiment)
		assert.Equal(t, domain.RiskLow, s.RiskLevel)
		assert.Equal(t, 0.70, s.MinConfidence)
		assert.Equal(t, 50000.0, s.MinLiquidityUSD)
		assert.Equal(t, 10, s.MaxTradesPerDay)
	})
}

func TestService_RegenerateSupersedes(t *testing.T) {
	store := memory.New()
	clk := clock.NewMock()
	clk.Add(time.Hour)
	bus := events.NewBus(zaptest.NewLogger(t), 8)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var updates atomic.Int32
	bus.SubscribeFunc(events.StrategyUpdated, func(context.Context, events.Event) error {
		updates.Add(1)
		return nil
	})

	svc := NewService(store, bus, clk, testCfg, zaptest.NewLogger(t))
	ctx := context.Background()

	// no strategy yet: Active generates one
	first, err := svc.Active(ctx)
	require.NoError(t, err)

	for _, e := range journal(10, 12, 8, 5, 20) {
		require.NoError(t, store.AppendJournal(ctx, e))
	}
	clk.Add(time.Minute)
	second, err := svc.Regenerate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, domain.SentimentBullish, active.Sentiment)

	// expired strategies are replaced on demand
	clk.Add(7 * time.Hour)
	third, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID)

	require.Eventually(t, func() bool { return updates.Load() == 3 }, time.Second, 10*time.Millisecond)
}
