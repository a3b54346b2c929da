package consensus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func vote(action domain.Action, conf float64) domain.Vote {
	return domain.Vote{Action: action, Confidence: conf, Weight: 1}
}

func TestTallySupermajoritySplitDefaultsToHold(t *testing.T) {
	votes := []domain.Vote{
		vote(domain.ActionBuy, 0.8), vote(domain.ActionBuy, 0.8), vote(domain.ActionBuy, 0.8),
		vote(domain.ActionHold, 0.6), vote(domain.ActionHold, 0.6),
	}
	res := Tally(votes, DefaultConfig())
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.True(t, res.Split)
	assert.False(t, res.Insufficient)
	assert.Equal(t, 0.0, res.Confidence)
	assert.InDelta(t, 0.6, res.Share, 1e-9, "share of the leading BUY votes")
}

func TestTallyConfidenceFromWinningVotesOnly(t *testing.T) {
	votes := []domain.Vote{
		vote(domain.ActionBuy, 0.7), vote(domain.ActionBuy, 0.8), vote(domain.ActionBuy, 0.9),
		vote(domain.ActionBuy, 0.6), vote(domain.ActionSell, 0.99),
	}
	res := Tally(votes, DefaultConfig())
	assert.Equal(t, domain.ActionBuy, res.Action)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.InDelta(t, 0.8, res.Share, 1e-9)
}

func TestTallyQuorumSafety(t *testing.T) {
	for n := 0; n < 3; n++ {
		votes := make([]domain.Vote, n)
		for i := range votes {
			votes[i] = vote(domain.ActionBuy, 0.95)
		}
		res := Tally(votes, DefaultConfig())
		assert.Equal(t, domain.ActionHold, res.Action, "responders=%d", n)
		assert.Equal(t, 0.0, res.Confidence, "responders=%d", n)
		assert.True(t, res.Insufficient)
	}
}

func TestTallyWeightsAndReasoning(t *testing.T) {
	votes := []domain.Vote{
		{Provider: "heavy", Action: domain.ActionSell, Confidence: 0.9, Weight: 3, Reasoning: "liquidity draining", RiskLevel: "high"},
		{Provider: "light", Action: domain.ActionSell, Confidence: 0.5, Weight: 1, Reasoning: "momentum fading", RiskLevel: "medium"},
		{Provider: "other", Action: domain.ActionBuy, Confidence: 0.9, Weight: 1, Reasoning: "dip"},
	}
	res := Tally(votes, DefaultConfig())
	require.Equal(t, domain.ActionSell, res.Action)
	assert.InDelta(t, 0.8, res.Share, 1e-9)
	assert.InDelta(t, (3*0.9+0.5)/4, res.Confidence, 1e-9)
	assert.Equal(t, "high", res.RiskLevel)
	assert.Equal(t, "[heavy] liquidity draining | [light] momentum fading", res.Reasoning)
}

func TestTallyExactThresholdPasses(t *testing.T) {
	cfg := Config{Quorum: 2, Supermajority: 0.64}
	votes := []domain.Vote{
		{Action: domain.ActionBuy, Confidence: 0.8, Weight: 16},
		{Action: domain.ActionHold, Confidence: 0.8, Weight: 9},
	}
	res := Tally(votes, cfg)
	assert.Equal(t, domain.ActionBuy, res.Action, "16/25 = 0.64 meets the threshold")

	votes[1].Weight = 10
	res = Tally(votes, cfg)
	assert.Equal(t, domain.ActionHold, res.Action, "16/26 falls short")
	assert.True(t, res.Split)
}

type fixed struct {
	name string
	op   advisor.Opinion
	err  error
}

func (f fixed) Name() string { return f.name }
func (f fixed) Advise(context.Context, advisor.Request) (advisor.Opinion, error) {
	return f.op, f.err
}

func newRegistry(t *testing.T, advisors ...advisor.Advisor) *advisor.Registry {
	reg := advisor.NewRegistry(clock.NewMock(), advisor.DefaultHealthPolicy(), zap.NewNop())
	for _, a := range advisors {
		require.NoError(t, reg.Register(a, 1))
	}
	return reg
}

type recorder struct{ results []Result }

func (r *recorder) ConsensusDecided(_ string, res Result) { r.results = append(r.results, res) }

func TestEngineIsolatesFailures(t *testing.T) {
	buy := advisor.Opinion{Action: domain.ActionBuy, Confidence: 0.9, Reasoning: "ok"}
	reg := newRegistry(t,
		fixed{name: "a", op: buy},
		fixed{name: "b", op: buy},
		fixed{name: "c", op: buy},
		fixed{name: "d", err: errors.New("timeout")},
		fixed{name: "e", err: fmt.Errorf("402: %w", advisor.ErrExhausted)},
	)
	rec := &recorder{}
	eng := NewEngine(reg, DefaultConfig(), zaptest.NewLogger(t), rec)

	res := eng.Decide(context.Background(), advisor.Request{Kind: advisor.KindEntry})
	assert.Equal(t, domain.ActionBuy, res.Action)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, 5, res.Queried)
	assert.Equal(t, 3, res.Responders)
	require.Len(t, rec.results, 1)

	for _, p := range reg.Snapshot() {
		switch p.Name {
		case "d":
			assert.InDelta(t, 85.0, p.Health, 1e-9)
		case "e":
			assert.False(t, p.DisabledUntil.IsZero())
		}
	}
	assert.Len(t, reg.Eligible(), 4, "exhausted provider is excluded")
}

func TestEngineFailsClosedWithoutQuorum(t *testing.T) {
	buy := advisor.Opinion{Action: domain.ActionBuy, Confidence: 0.99}
	reg := newRegistry(t,
		fixed{name: "a", op: buy},
		fixed{name: "b", op: buy},
		fixed{name: "c", err: errors.New("bad gateway")},
	)
	eng := NewEngine(reg, DefaultConfig(), zaptest.NewLogger(t), nil)

	res := eng.Decide(context.Background(), advisor.Request{Kind: advisor.KindPosition})
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Equal(t, 0.0, res.Confidence)
	assert.True(t, res.Insufficient)
}

func TestEngineSurvivesPanickingAdvisor(t *testing.T) {
	sell := advisor.Opinion{Action: domain.ActionSell, Confidence: 0.7}
	panicky := advisor.Func{ID: "p", Fn: func(context.Context, advisor.Request) (advisor.Opinion, error) {
		panic("nil map")
	}}
	reg := newRegistry(t, fixed{name: "a", op: sell}, fixed{name: "b", op: sell}, fixed{name: "c", op: sell}, panicky)
	eng := NewEngine(reg, DefaultConfig(), zaptest.NewLogger(t), nil)

	res := eng.Decide(context.Background(), advisor.Request{Kind: advisor.KindPosition})
	assert.Equal(t, domain.ActionSell, res.Action)
	assert.Equal(t, 3, res.Responders)
}
