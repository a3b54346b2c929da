package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/risk"
	"github.com/rovshanmuradov/solana-autotrader/internal/rotation"
	"github.com/rovshanmuradov/solana-autotrader/internal/sizing"
)

var evalNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testLimits() Limits {
	return Limits{
		Modes:     sizing.DefaultModes(),
		Portfolio: portfolio.DefaultConfig(),
		Rotation:  rotation.DefaultConfig(),
		MinTrade:  0.01,
	}
}

func heldPosition(token string, qty, entryConf float64) *domain.Position {
	return &domain.Position{
		ID: "pos-" + token, Wallet: "w", Token: token, Symbol: token, State: domain.StateOpen,
		EntryPrice: 1, Quantity: qty, SolCommitted: qty, OriginalStake: qty,
		EntryConfidence: entryConf, OpenedAt: evalNow.Add(-time.Hour),
	}
}

// baseInput is a 10 SOL wallet with nothing held and a 0.8 BUY signal.
func baseInput() EvalInput {
	return EvalInput{
		Candidate: Candidate{
			Token: domain.TokenSnapshot{Address: "NEW", Symbol: "NEW", PriceNative: 0.001},
			Consensus: consensus.Result{
				Action: domain.ActionBuy, Confidence: 0.8, Share: 0.8, PotentialUpsidePct: 40,
				Queried: 3, Responders: 3,
			},
			Risk: risk.Assessment{SizeFactor: 1, StopFactor: 1},
		},
		Wallet:    domain.BotConfig{Wallet: "w", Enabled: true},
		Drawdown:  risk.DrawdownCheck{Allowed: true},
		Portfolio: portfolio.Compute("w", 10, nil, nil, portfolio.DefaultConfig(), evalNow),
		Limits:    testLimits(),
		Now:       evalNow,
	}
}

func TestEvaluate_Gates(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *EvalInput)
		gate   string
	}{
		{"already held", func(in *EvalInput) { in.Held = true }, "duplicate"},
		{"drawdown pause", func(in *EvalInput) {
			in.Drawdown = risk.DrawdownCheck{Verdict: logger.Verdict{Gate: "drawdown", Reason: "paused"}}
		}, "drawdown"},
		{"daily limit", func(in *EvalInput) {
			in.Strategy = &domain.Strategy{MaxTradesPerDay: 2}
			in.Wallet.TradeDay = evalNow.Format(time.DateOnly)
			in.Wallet.TradesToday = 2
		}, "daily_limit"},
		{"quorum missed", func(in *EvalInput) {
			in.Candidate.Consensus = consensus.Result{Action: domain.ActionHold, Insufficient: true, Queried: 3, Responders: 1}
		}, "quorum"},
		{"split panel", func(in *EvalInput) {
			in.Candidate.Consensus = consensus.Result{Action: domain.ActionHold, Split: true, Share: 0.5}
		}, "consensus"},
		{"sell signal", func(in *EvalInput) {
			in.Candidate.Consensus.Action = domain.ActionSell
		}, "consensus"},
		{"strategy confidence", func(in *EvalInput) {
			in.Strategy = &domain.Strategy{MinConfidence: 0.9}
		}, "min_confidence"},
		{"strategy upside", func(in *EvalInput) {
			in.Strategy = &domain.Strategy{MinConfidence: 0.6, MinUpsidePct: 50}
		}, "min_upside"},
		{"loss screen", func(in *EvalInput) {
			in.Candidate.Risk = risk.Assessment{Blocked: true, Verdict: logger.Verdict{Gate: "loss_probability"}}
		}, "loss_probability"},
		{"below lowest mode", func(in *EvalInput) {
			in.Candidate.Consensus.Confidence = 0.5
		}, "mode"},
		{"budget exhausted", func(in *EvalInput) {
			in.Wallet.TotalBudget = 1
			in.Wallet.UsedBudget = 1
		}, "budget"},
		{"below network minimum", func(in *EvalInput) {
			in.Limits.MinTrade = 3
		}, "sizing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.modify(&in)
			d := Evaluate(in)
			assert.Equal(t, Skip, d.Kind)
			assert.Equal(t, tt.gate, d.Verdict.Gate)
			assert.False(t, d.Verdict.Passed)
		})
	}
}

func TestEvaluate_Buy(t *testing.T) {
	d := Evaluate(baseInput())
	require.Equal(t, Buy, d.Kind)
	assert.Equal(t, domain.ModeQuick2x, d.Params.Mode)
	// QUICK_2X at 0.8 sizes 5.6% of 10 SOL
	assert.InDelta(t, 0.56, d.Amount, 1e-9)
	assert.Equal(t, "mode", d.Bound)
	assert.Equal(t, 1.0, d.StopFactor)
	assert.True(t, d.Verdict.Passed)
}

func TestEvaluate_BuyCappedByBudgetAndRisk(t *testing.T) {
	in := baseInput()
	in.Candidate.Risk = risk.Assessment{SizeFactor: 0.5, StopFactor: 0.6}
	in.Wallet.TotalBudget = 1
	in.Wallet.UsedBudget = 0.8

	d := Evaluate(in)
	require.Equal(t, Buy, d.Kind)
	assert.InDelta(t, 0.2, d.Amount, 1e-9)
	assert.Equal(t, "budget", d.Bound)
	assert.Equal(t, 0.6, d.StopFactor)
}

func TestEvaluate_EmergencyRotation(t *testing.T) {
	in := baseInput()
	victim := heldPosition("OLD", 9.7, 60)
	in.Portfolio = portfolio.Compute("w", 0.3, []*domain.Position{victim}, map[string]float64{"OLD": 1}, portfolio.DefaultConfig(), evalNow)
	in.Holdings = []rotation.Holding{{Position: victim, Price: 1}}
	require.Zero(t, in.Portfolio.Available)

	d := Evaluate(in)
	require.Equal(t, Rotate, d.Kind)
	assert.True(t, d.Emergency)
	assert.Equal(t, "OLD", d.Victim.Position.Token)
	assert.InDelta(t, 0.56, d.Amount, 1e-9)
	assert.True(t, d.Verdict.Passed)
}

func TestEvaluate_RotationRefusedBuysSmaller(t *testing.T) {
	in := baseInput()
	// strong holding: margin 80-75 is under the 15 point requirement
	held := heldPosition("OLD", 8.7, 75)
	in.Portfolio = portfolio.Compute("w", 1.3, []*domain.Position{held}, map[string]float64{"OLD": 1}, portfolio.DefaultConfig(), evalNow)
	in.Holdings = []rotation.Holding{{Position: held, Price: 1}}
	require.InDelta(t, 0.3, in.Portfolio.Available, 1e-9)

	d := Evaluate(in)
	require.Equal(t, Buy, d.Kind)
	assert.InDelta(t, 0.3, d.Amount, 1e-9)
	assert.Equal(t, "available", d.Bound)
}

func TestEvaluate_RotationRefusedNothingAffordable(t *testing.T) {
	in := baseInput()
	held := heldPosition("OLD", 8.7, 75)
	in.Portfolio = portfolio.Compute("w", 1.3, []*domain.Position{held}, map[string]float64{"OLD": 1}, portfolio.DefaultConfig(), evalNow)
	in.Holdings = []rotation.Holding{{Position: held, Price: 1}}
	in.Limits.MinTrade = 0.5

	d := Evaluate(in)
	require.Equal(t, Skip, d.Kind)
	assert.Equal(t, "rotation", d.Verdict.Gate)
}

func TestApplyBuy(t *testing.T) {
	held := heldPosition("OLD", 2, 70)
	snap := portfolio.Compute("w", 8, []*domain.Position{held}, map[string]float64{"OLD": 1}, portfolio.DefaultConfig(), evalNow)
	before := snap.Available

	out := applyBuy(snap, "NEW", "NEW", 0.5)
	assert.InDelta(t, before-0.5, out.Available, 1e-9)
	assert.InDelta(t, 7.5, out.SOL, 1e-9)
	h, ok := out.Holding("NEW")
	require.True(t, ok)
	assert.InDelta(t, 5.0, h.Pct, 1e-9)

	out = applyBuy(out, "OLD", "OLD", 0.5)
	h, ok = out.Holding("OLD")
	require.True(t, ok)
	assert.InDelta(t, 2.5, h.Value, 1e-9)
	assert.Len(t, out.Holdings, 2)

	// the input snapshot is untouched
	_, ok = snap.Holding("NEW")
	assert.False(t, ok)
}
