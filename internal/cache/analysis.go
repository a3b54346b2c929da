// internal/cache/analysis.go
package cache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

// AnalysisPolicy bounds how long an advisor analysis stays trustworthy.
type AnalysisPolicy struct {
	MaxAge        time.Duration
	PriceMovePct  float64
	ProfitMovePct float64
}

type analysisEntry[V any] struct {
	value     V
	price     float64
	profitPct float64
	createdAt time.Time
}

// Analysis caches advisor results per key with adaptive invalidation: an entry
// stays valid only while it is younger than MaxAge and neither the price nor
// the position profit has drifted past their thresholds.
type Analysis[V any] struct {
	clock  clock.Clock
	policy AnalysisPolicy
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]analysisEntry[V]

	hits   uint64
	misses uint64
}

// NewAnalysis creates an adaptive analysis cache.
func NewAnalysis[V any](clk clock.Clock, policy AnalysisPolicy, logger *zap.Logger) *Analysis[V] {
	return &Analysis[V]{
		clock:   clk,
		policy:  policy,
		logger:  logger.Named("analysis_cache"),
		entries: make(map[string]analysisEntry[V]),
	}
}

// Get returns the cached value if still valid for the given price and profit.
// Invalid entries are dropped.
func (c *Analysis[V]) Get(key string, price, profitPct float64) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}
	if reason := c.invalid(e, price, profitPct); reason != "" {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.createdAt.Equal(e.createdAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		c.logger.Debug("Analysis invalidated", zap.String("key", key), zap.String("reason", reason))
		return zero, false
	}
	atomic.AddUint64(&c.hits, 1)
	return e.value, true
}

func (c *Analysis[V]) invalid(e analysisEntry[V], price, profitPct float64) string {
	if c.clock.Now().Sub(e.createdAt) >= c.policy.MaxAge {
		return "expired"
	}
	if PctMove(e.price, price) > c.policy.PriceMovePct {
		return "price moved"
	}
	if math.Abs(profitPct-e.profitPct) > c.policy.ProfitMovePct {
		return "profit moved"
	}
	return ""
}

// Put records a value produced at the given price and profit.
func (c *Analysis[V]) Put(key string, value V, price, profitPct float64) {
	c.mu.Lock()
	c.entries[key] = analysisEntry[V]{value: value, price: price, profitPct: profitPct, createdAt: c.clock.Now()}
	c.mu.Unlock()
}

// Delete drops a key.
func (c *Analysis[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Evict removes entries older than MaxAge.
func (c *Analysis[V]) Evict() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.policy.MaxAge {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns entry count and hit/miss counters.
func (c *Analysis[V]) Stats() (entries int, hits, misses uint64) {
	c.mu.RLock()
	entries = len(c.entries)
	c.mu.RUnlock()
	return entries, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// PctMove is the absolute percentage change from a to b.
func PctMove(a, b float64) float64 {
	if a == 0 {
		if b == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(b-a) / math.Abs(a) * 100
}
