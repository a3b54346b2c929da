package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestDrawdownHysteresis(t *testing.T) {
	d := Drawdown{PausePct: 20, ResumePct: 10}
	cfg := &domain.BotConfig{PeakValue: 10}

	check := d.Update(cfg, 7.9)
	assert.False(t, check.Allowed)
	assert.Equal(t, "paused", check.Transition)
	assert.InDelta(t, 21.0, check.DrawdownPct, 1e-9)
	assert.False(t, check.Verdict.Passed)

	check = d.Update(cfg, 8.5)
	assert.False(t, check.Allowed, "between thresholds stays paused")
	assert.Empty(t, check.Transition)

	check = d.Update(cfg, 9.0)
	assert.True(t, check.Allowed)
	assert.Equal(t, "resumed", check.Transition)

	check = d.Update(cfg, 8.5)
	assert.True(t, check.Allowed, "between thresholds stays active when not paused")
	assert.InDelta(t, 10.0, cfg.PeakValue, 1e-9)
}

func TestDrawdownPeakAndBypass(t *testing.T) {
	d := Drawdown{PausePct: 20, ResumePct: 10}
	cfg := &domain.BotConfig{PeakValue: 10}

	d.Update(cfg, 12)
	assert.InDelta(t, 12.0, cfg.PeakValue, 1e-9)

	check := d.Update(cfg, 9.5)
	assert.True(t, cfg.Paused)
	assert.False(t, check.Allowed)

	cfg.DrawdownBypass = true
	check = d.Update(cfg, 9.5)
	assert.True(t, check.Allowed)
	assert.True(t, cfg.Paused, "bypass does not clear the pause flag")
	assert.Contains(t, check.Verdict.Reason, "bypass")
}

func TestEvaluateLossPanel(t *testing.T) {
	cfg := DefaultLossConfig()
	tests := []struct {
		name    string
		est     []float64
		blocked bool
		size    float64
		stop    float64
	}{
		{"all extreme", []float64{96, 99, 97}, true, 0, 1},
		{"one below extreme", []float64{96, 99, 90}, false, 0.25, 0.6},
		{"two of three high", []float64{75, 80, 20}, false, 0.25, 0.6},
		{"three of five high", []float64{75, 80, 71, 10, 20}, false, 0.5, 0.6},
		{"minority high", []float64{75, 20, 30}, false, 1, 1},
		{"exactly at high is not above", []float64{70, 70, 70}, false, 1, 1},
		{"empty", nil, false, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Evaluate(tt.est, cfg)
			assert.Equal(t, tt.blocked, a.Blocked)
			assert.InDelta(t, tt.size, a.SizeFactor, 1e-9)
			assert.InDelta(t, tt.stop, a.StopFactor, 1e-9)
			assert.Equal(t, !tt.blocked, a.Verdict.Passed)
		})
	}
}

func TestRuleScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := DefaultRuleConfig()

	clean := domain.TokenSnapshot{LiquidityUSD: 80000, Change1h: 5, Change24h: 12, PairCreatedAt: now.Add(-48 * time.Hour)}
	score, flags := RuleScore(clean, now, rules)
	assert.Equal(t, 0.0, score)
	assert.Empty(t, flags)

	awful := domain.TokenSnapshot{
		Liquidity: domain.LockUnlocked, LiquidityUSD: 4000, Change1h: 250, Change24h: -40,
		PairCreatedAt: now.Add(-20 * time.Minute),
	}
	score, flags = RuleScore(awful, now, rules)
	assert.Equal(t, 100.0, score)
	assert.Len(t, flags, 5)

	a := EvaluateRules(score, flags, DefaultLossConfig())
	assert.True(t, a.Blocked)
	assert.Equal(t, "rules", a.Source)

	a = EvaluateRules(PenaltyUnlocked+PenaltyLowLiquidity+PenaltySpike, nil, DefaultLossConfig())
	assert.False(t, a.Blocked)
	assert.InDelta(t, 0.5, a.SizeFactor, 1e-9)
	assert.InDelta(t, 0.6, a.StopFactor, 1e-9)
}

type riskAdvisor struct {
	name string
	p    float64
	err  error
}

func (r riskAdvisor) Name() string { return r.name }
func (r riskAdvisor) Advise(context.Context, advisor.Request) (advisor.Opinion, error) {
	return advisor.Opinion{LossProbability: r.p}, r.err
}

func TestLossScreenUsesPanelThenRules(t *testing.T) {
	reg := advisor.NewRegistry(clock.NewMock(), advisor.DefaultHealthPolicy(), zap.NewNop())
	require.NoError(t, reg.Register(riskAdvisor{name: "a", p: 97}, 1))
	require.NoError(t, reg.Register(riskAdvisor{name: "b", p: 99}, 1))
	require.NoError(t, reg.Register(riskAdvisor{name: "c", err: errors.New("timeout")}, 1))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	screen := NewLossScreen(reg, DefaultLossConfig(), DefaultRuleConfig(), func() time.Time { return now }, zaptest.NewLogger(t))
	a := screen.Assess(context.Background(), domain.TokenSnapshot{Address: "mint", LiquidityUSD: 90000})
	assert.True(t, a.Blocked, "every responder above extreme")
	assert.Equal(t, "panel", a.Source)
	assert.Len(t, a.Estimates, 2)

	silent := advisor.NewRegistry(clock.NewMock(), advisor.DefaultHealthPolicy(), zap.NewNop())
	require.NoError(t, silent.Register(riskAdvisor{name: "x", err: errors.New("down")}, 1))
	screen = NewLossScreen(silent, DefaultLossConfig(), DefaultRuleConfig(), func() time.Time { return now }, zaptest.NewLogger(t))
	a = screen.Assess(context.Background(), domain.TokenSnapshot{Address: "mint", LiquidityUSD: 5000, Change24h: -30})
	assert.Equal(t, "rules", a.Source)
	assert.False(t, a.Blocked)
	assert.InDelta(t, 1.0, a.SizeFactor, 1e-9, "35 points is below the high threshold")
}
