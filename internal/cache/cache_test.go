package cache

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiscoveryTTL(t *testing.T) {
	mock := clock.NewMock()
	c := NewDiscovery(mock, 5*time.Minute, zap.NewNop())
	filter := domain.DiscoveryFilter{Query: "SOL", MinLiquidityUSD: 10000, Limit: 20}

	_, ok := c.Get(filter)
	assert.False(t, ok)

	c.Put(filter, []domain.TokenSnapshot{{Address: "mintA", FetchedAt: mock.Now()}})
	tokens, ok := c.Get(filter)
	require.True(t, ok)
	require.Len(t, tokens, 1)

	tokens[0].Address = "mutated"
	again, _ := c.Get(filter)
	assert.Equal(t, "mintA", again[0].Address)

	other := filter
	other.MinLiquidityUSD = 50000
	_, ok = c.Get(other)
	assert.False(t, ok, "different filters are different keys")

	snap, ok := c.Snapshot("mintA")
	require.True(t, ok)
	assert.Equal(t, "mintA", snap.Address)

	mock.Add(5 * time.Minute)
	_, ok = c.Get(filter)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Evict())

	entries, hits, misses := c.Stats()
	assert.Equal(t, 0, entries)
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(3), misses)
}

func TestAnalysisAdaptiveInvalidation(t *testing.T) {
	policy := AnalysisPolicy{MaxAge: 15 * time.Minute, PriceMovePct: 5, ProfitMovePct: 3}

	tests := []struct {
		name    string
		advance time.Duration
		price   float64
		profit  float64
		valid   bool
	}{
		{"fresh and still", time.Minute, 1.02, 2.0, true},
		{"too old", 15 * time.Minute, 1.0, 0, false},
		{"price drift", time.Minute, 1.06, 0, false},
		{"price drift down", time.Minute, 0.94, 0, false},
		{"profit drift", time.Minute, 1.0, 3.5, false},
		{"within both bands", 14 * time.Minute, 1.049, 2.9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			c := NewAnalysis[string](mock, policy, zap.NewNop())
			c.Put("pos-1", "HOLD", 1.0, 0)
			mock.Add(tt.advance)

			v, ok := c.Get("pos-1", tt.price, tt.profit)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, "HOLD", v)
			} else {
				entries, _, _ := c.Stats()
				assert.Equal(t, 0, entries, "invalid entries are dropped")
			}
		})
	}
}

func TestAnalysisEvict(t *testing.T) {
	mock := clock.NewMock()
	c := NewAnalysis[int](mock, AnalysisPolicy{MaxAge: time.Minute, PriceMovePct: 5, ProfitMovePct: 3}, zap.NewNop())
	c.Put("a", 1, 1, 0)
	mock.Add(30 * time.Second)
	c.Put("b", 2, 1, 0)
	mock.Add(30 * time.Second)

	assert.Equal(t, 1, c.Evict())
	_, ok := c.Get("b", 1, 0)
	assert.True(t, ok)
}

func TestFingerprintSuppression(t *testing.T) {
	mock := clock.NewMock()
	fp := NewFingerprints(mock, FingerprintPolicy{PricePct: 2, ProfitPct: 1, MinInterval: 10 * time.Minute})

	assert.False(t, fp.Unchanged("w|mint", 1.0, 0), "never analysed")

	fp.Record("w|mint", 1.0, 0.5)
	assert.True(t, fp.Unchanged("w|mint", 1.01, 0.9))
	assert.False(t, fp.Unchanged("w|mint", 1.03, 0.5), "price moved")
	assert.False(t, fp.Unchanged("w|mint", 1.0, 1.6), "profit moved")

	mock.Add(10 * time.Minute)
	assert.False(t, fp.Unchanged("w|mint", 1.0, 0.5), "interval elapsed")

	fp.Record("w|other", 2, 0)
	assert.Equal(t, 1, fp.Retain(map[string]struct{}{"w|mint": {}}))
	assert.Equal(t, 1, fp.Len())
	fp.Forget("w|mint")
	assert.Equal(t, 0, fp.Len())
}

func TestPctMove(t *testing.T) {
	assert.InDelta(t, 10.0, PctMove(1, 1.1), 1e-9)
	assert.InDelta(t, 10.0, PctMove(1, 0.9), 1e-9)
	assert.Equal(t, 0.0, PctMove(0, 0))
}
