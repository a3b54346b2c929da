package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pos(id, token string, qty, last float64) *domain.Position {
	return &domain.Position{ID: id, Token: token, Quantity: qty, LastPrice: last, EntryPrice: last, State: domain.StateOpen}
}

func TestComputeValuation(t *testing.T) {
	now := time.Now()
	positions := []*domain.Position{
		pos("1", "A", 100, 0.01), // 1 SOL at 0.01
		pos("2", "B", 10, 0.3),   // 3 SOL at 0.3
		{ID: "3", Token: "C", Quantity: 5, State: domain.StateClosed},
	}
	s := Compute("w", 6, positions, map[string]float64{"A": 0.01, "B": 0.3}, DefaultConfig(), now)

	assert.InDelta(t, 10.0, s.TotalValue, 1e-9)
	assert.InDelta(t, 4.0, s.Invested, 1e-9)
	require.Len(t, s.Holdings, 2)
	assert.Equal(t, "B", s.Holdings[0].Token)
	assert.InDelta(t, 30.0, s.LargestPct, 1e-9)
	// weights 0.75 / 0.25
	assert.InDelta(t, 0.625, s.HHI, 1e-9)
	assert.InDelta(t, 37.5, s.Diversification, 1e-9)
	assert.InDelta(t, 0.2, s.Reserve, 1e-9)
	assert.InDelta(t, 9.0, s.DeployableCap, 1e-9)
	assert.InDelta(t, 5.0, s.Available, 1e-9)
	assert.Empty(t, s.Unpriced)
}

func TestComputeDeployableCapBinds(t *testing.T) {
	s := Compute("w", 1.5, []*domain.Position{pos("1", "A", 850, 0.01)}, map[string]float64{"A": 0.01}, DefaultConfig(), time.Now())
	// total 10, cap 9, invested 8.5
	assert.InDelta(t, 0.5, s.Available, 1e-9)
}

func TestReserveScales(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.01, Reserve(0.1, cfg), 1e-9)
	assert.InDelta(t, 0.2, Reserve(10, cfg), 1e-9)
	assert.InDelta(t, 0.5, Reserve(1000, cfg), 1e-9)
}

func TestConcentrationHeadroom(t *testing.T) {
	cfg := DefaultConfig()
	s := Compute("w", 9, []*domain.Position{pos("1", "A", 100, 0.01)}, map[string]float64{"A": 0.01}, cfg, time.Now())
	assert.InDelta(t, 1.5, s.ConcentrationHeadroom("A", cfg), 1e-9)
	assert.InDelta(t, 2.5, s.ConcentrationHeadroom("NEW", cfg), 1e-9)

	full := Compute("w", 7, []*domain.Position{pos("1", "A", 300, 0.01)}, map[string]float64{"A": 0.01}, cfg, time.Now())
	assert.Zero(t, full.ConcentrationHeadroom("A", cfg))
}

func TestConcentrationCapHoldsAfterBuy(t *testing.T) {
	cfg := DefaultConfig()
	for _, sol := range []float64{0.5, 3, 10, 42.7} {
		s := Compute("w", sol, nil, nil, cfg, time.Now())
		buy := s.ConcentrationHeadroom("X", cfg)
		after := Compute("w", sol-buy, []*domain.Position{pos("1", "X", buy/0.02, 0.02)}, map[string]float64{"X": 0.02}, cfg, time.Now())
		h, ok := after.Holding("X")
		require.True(t, ok)
		assert.LessOrEqual(t, h.Value/after.TotalValue, 0.25+1e-9)
	}
}

type fakePrices struct {
	prices map[string]float64
	err    error
	calls  [][]string
}

func (f *fakePrices) BatchPriceOf(_ context.Context, tokens []string) (map[string]float64, error) {
	f.calls = append(f.calls, tokens)
	return f.prices, f.err
}

type fakeBalance float64

func (b fakeBalance) BalanceOf(context.Context, string) (float64, error) { return float64(b), nil }

func TestAnalyzerBatchesAndDegrades(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"A": 0.02}}
	a := NewAnalyzer(prices, fakeBalance(2), DefaultConfig(), nil, zaptest.NewLogger(t))
	positions := []*domain.Position{pos("1", "A", 50, 0.01), pos("2", "B", 10, 0.05), pos("3", "A", 1, 0.01)}

	s, err := a.Analyze(context.Background(), "w", positions)
	require.NoError(t, err)
	require.Len(t, prices.calls, 1, "one batched lookup")
	assert.ElementsMatch(t, []string{"A", "B"}, prices.calls[0])
	assert.Equal(t, []string{"B"}, s.Unpriced)
	assert.InDelta(t, 2+1+0.5+0.02, s.TotalValue, 1e-9)

	prices.err = errors.New("rate limited")
	s, err = a.Analyze(context.Background(), "w", positions)
	require.NoError(t, err)
	assert.Len(t, s.Unpriced, 3)
}

func TestEmptyPortfolioIsFullyDiversified(t *testing.T) {
	s := Compute("w", 1, nil, nil, DefaultConfig(), time.Now())
	assert.InDelta(t, 100.0, s.Diversification, 1e-9)
	assert.Zero(t, s.LargestPct)
}
