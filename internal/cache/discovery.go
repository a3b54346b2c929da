// internal/cache/discovery.go
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"go.uber.org/zap"
)

type discoveryEntry struct {
	tokens    []domain.TokenSnapshot
	createdAt time.Time
	expiresAt time.Time
}

// Discovery caches token discovery results keyed by filter on a fixed TTL.
type Discovery struct {
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]discoveryEntry

	hits   uint64
	misses uint64
}

// NewDiscovery creates a discovery cache with the given TTL.
func NewDiscovery(clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Discovery {
	return &Discovery{
		clock:   clk,
		ttl:     ttl,
		logger:  logger.Named("discovery_cache"),
		entries: make(map[string]discoveryEntry),
	}
}

// FilterKey renders the content key for a discovery filter.
func FilterKey(f domain.DiscoveryFilter) string {
	return fmt.Sprintf("%s|liq=%.0f|vol=%.0f|n=%d",
		strings.ToLower(strings.TrimSpace(f.Query)), f.MinLiquidityUSD, f.MinVolumeUSD, f.Limit)
}

// Get returns a copy of the cached token set if it has not expired.
func (c *Discovery) Get(f domain.DiscoveryFilter) ([]domain.TokenSnapshot, bool) {
	key := FilterKey(f)
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(e.expiresAt) {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}
	atomic.AddUint64(&c.hits, 1)
	out := make([]domain.TokenSnapshot, len(e.tokens))
	copy(out, e.tokens)
	return out, true
}

// Put stores a token set for the filter.
func (c *Discovery) Put(f domain.DiscoveryFilter, tokens []domain.TokenSnapshot) {
	now := c.clock.Now()
	stored := make([]domain.TokenSnapshot, len(tokens))
	copy(stored, tokens)

	c.mu.Lock()
	c.entries[FilterKey(f)] = discoveryEntry{tokens: stored, createdAt: now, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

// Snapshot finds the most recent cached snapshot of a token across all filters.
func (c *Discovery) Snapshot(token string) (domain.TokenSnapshot, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best  domain.TokenSnapshot
		found bool
	)
	for _, e := range c.entries {
		if !now.Before(e.expiresAt) {
			continue
		}
		for _, s := range e.tokens {
			if s.Address == token && (!found || s.FetchedAt.After(best.FetchedAt)) {
				best, found = s, true
			}
		}
	}
	return best, found
}

// Evict removes expired entries and returns how many were dropped.
func (c *Discovery) Evict() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Evicted discovery entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(c.entries)))
	}
	return removed
}

// Stats returns entry count and hit/miss counters.
func (c *Discovery) Stats() (entries int, hits, misses uint64) {
	c.mu.RLock()
	entries = len(c.entries)
	c.mu.RUnlock()
	return entries, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
