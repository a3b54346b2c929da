package rotation

import (
	"testing"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func holding(symbol string, conf, entry, price, qty float64, age time.Duration) Holding {
	return Holding{
		Position: &domain.Position{
			ID: symbol, Symbol: symbol, Token: symbol, State: domain.StateOpen,
			EntryConfidence: conf, EntryPrice: entry, Quantity: qty, OpenedAt: now.Add(-age),
		},
		Price: price,
	}
}

func TestRankProtectsWinners(t *testing.T) {
	ranked := Rank([]Holding{
		holding("WIN", 70, 1, 2, 1, time.Hour),     // +100%
		holding("BAG", 50, 1, 0.8, 1, time.Hour),   // -20%
		holding("FLAT", 60, 1, 1.02, 1, time.Hour), // +2%
		holding("FRESH", 50, 1, 1, 1, time.Minute), // too young
	}, 80, now, DefaultConfig())

	require.Len(t, ranked, 3)
	assert.Equal(t, "FLAT", ranked[0].Position.Symbol)
	assert.Equal(t, "BAG", ranked[1].Position.Symbol)
	assert.Equal(t, "WIN", ranked[2].Position.Symbol)
	assert.InDelta(t, 38.0, ranked[0].Score, 1e-9)
	assert.InDelta(t, 50.0, ranked[1].Score, 1e-9)
}

func TestScoreSmallGainOnlyPenalisedWhenOutranked(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 63.0, Score(60, 2, 55, cfg), 1e-9)
	assert.InDelta(t, 38.0, Score(60, 2, 80, cfg), 1e-9)
	assert.InDelta(t, 75.0, Score(60, 10, 80, cfg), 1e-9, "10% is no longer small")
	assert.InDelta(t, 60.0, Score(60, -30, 80, cfg), 1e-9)
}

func TestDecideMargin(t *testing.T) {
	cfg := DefaultConfig()
	req := Request{
		Token: "NEW", Required: 1, Available: 0.5, Now: now,
		Holdings: []Holding{holding("OLD", 70, 1, 1.01, 1, time.Hour)},
	}

	req.NewConfidence = 0.84
	_, ok, v := Decide(req, cfg)
	assert.False(t, ok, "14 points is under the margin")
	assert.False(t, v.Passed)

	req.NewConfidence = 0.86
	plan, ok, v := Decide(req, cfg)
	require.True(t, ok)
	assert.Equal(t, "OLD", plan.Victim.Position.Symbol)
	assert.False(t, plan.Emergency)
	assert.True(t, v.Passed)
}

func TestDecideMeaningfulLoss(t *testing.T) {
	cfg := DefaultConfig()
	req := Request{
		Token: "NEW", NewConfidence: 0.8, Required: 0.5, Available: 0.1, Now: now,
		Holdings: []Holding{holding("BAG", 75, 1, 0.85, 2, time.Hour)},
	}
	plan, ok, _ := Decide(req, cfg)
	require.True(t, ok)
	assert.InDelta(t, -15.0, plan.Victim.ProfitPct, 1e-9)
}

func TestDecideMeaningfulLossBehindWeakest(t *testing.T) {
	cfg := DefaultConfig()
	req := Request{
		Token: "NEW", NewConfidence: 0.8, Required: 0.5, Available: 0.1, Now: now,
		Holdings: []Holding{
			holding("FLAT", 70, 1, 1.02, 1, time.Hour),
			holding("BAG", 78, 1, 0.85, 2, time.Hour),
		},
	}
	plan, ok, _ := Decide(req, cfg)
	require.True(t, ok)
	assert.Equal(t, "BAG", plan.Victim.Position.Symbol)

	req.NewConfidence = 0.79
	_, ok, v := Decide(req, cfg)
	assert.False(t, ok)
	assert.Contains(t, v.Reason, "FLAT")
}

func TestDecideCapitalCheckAlwaysApplies(t *testing.T) {
	cfg := DefaultConfig()
	small := holding("TINY", 55, 1, 1, 0.2, time.Hour)

	for _, available := range []float64{0.01, 0.3} {
		req := Request{Token: "NEW", NewConfidence: 0.95, Required: 1, Available: available, Now: now, Holdings: []Holding{small}}
		_, ok, v := Decide(req, cfg)
		assert.False(t, ok, "available %.2f", available)
		assert.Less(t, v.Measured, req.Required)
	}
}

func TestDecideEmergencyBypassesMargin(t *testing.T) {
	cfg := DefaultConfig()
	req := Request{
		Token: "NEW", NewConfidence: 0.6, Required: 0.3, Available: 0.01, Now: now,
		Holdings: []Holding{
			holding("STRONG", 90, 1, 1.5, 1, time.Hour),
			holding("WEAK", 88, 1, 1.0, 1, time.Hour),
		},
	}
	plan, ok, v := Decide(req, cfg)
	require.True(t, ok)
	assert.True(t, plan.Emergency)
	assert.Equal(t, "WEAK", plan.Victim.Position.Symbol)
	assert.Contains(t, v.Reason, "emergency")
	assert.InDelta(t, 0.97, plan.Victim.ExpectedProceeds, 1e-9)
}

func TestDecideNotNeeded(t *testing.T) {
	_, ok, v := Decide(Request{Required: 0.1, Available: 1}, DefaultConfig())
	assert.False(t, ok)
	assert.True(t, v.Passed)
}

func TestDecideRespectsMinHold(t *testing.T) {
	req := Request{
		Token: "NEW", NewConfidence: 0.99, Required: 1, Available: 0.1, Now: now,
		Holdings: []Holding{holding("YOUNG", 50, 1, 1, 5, 10*time.Minute)},
	}
	_, ok, v := Decide(req, DefaultConfig())
	assert.False(t, ok)
	assert.Contains(t, v.Reason, "held long enough")
}
