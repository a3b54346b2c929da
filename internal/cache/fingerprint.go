// internal/cache/fingerprint.go
package cache

import (
	"math"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// FingerprintPolicy sets when an open position is considered unchanged.
type FingerprintPolicy struct {
	PricePct    float64
	ProfitPct   float64
	MinInterval time.Duration
}

type fingerprint struct {
	price     float64
	profitPct float64
	at        time.Time
}

// Fingerprints suppresses advisor re-analysis of positions that have barely
// moved since their last analysis. It is separate from cache expiry and only
// bounds advisor call volume.
type Fingerprints struct {
	clock  clock.Clock
	policy FingerprintPolicy

	mu     sync.Mutex
	prints map[string]fingerprint
}

// NewFingerprints creates an empty fingerprint table.
func NewFingerprints(clk clock.Clock, policy FingerprintPolicy) *Fingerprints {
	return &Fingerprints{clock: clk, policy: policy, prints: make(map[string]fingerprint)}
}

// Unchanged reports whether analysis for key can be skipped entirely.
func (f *Fingerprints) Unchanged(key string, price, profitPct float64) bool {
	f.mu.Lock()
	fp, ok := f.prints[key]
	f.mu.Unlock()
	if !ok {
		return false
	}
	if f.clock.Now().Sub(fp.at) >= f.policy.MinInterval {
		return false
	}
	return PctMove(fp.price, price) < f.policy.PricePct &&
		math.Abs(profitPct-fp.profitPct) < f.policy.ProfitPct
}

// Record stores the state the last analysis ran against.
func (f *Fingerprints) Record(key string, price, profitPct float64) {
	f.mu.Lock()
	f.prints[key] = fingerprint{price: price, profitPct: profitPct, at: f.clock.Now()}
	f.mu.Unlock()
}

// Forget drops a key, e.g. once the position is closed.
func (f *Fingerprints) Forget(key string) {
	f.mu.Lock()
	delete(f.prints, key)
	f.mu.Unlock()
}

// Retain drops every fingerprint whose key is not in keep.
func (f *Fingerprints) Retain(keep map[string]struct{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for k := range f.prints {
		if _, ok := keep[k]; !ok {
			delete(f.prints, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked fingerprints.
func (f *Fingerprints) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prints)
}
