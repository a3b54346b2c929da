// internal/advisor/registry.go
package advisor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

// HealthPolicy controls the rolling provider health score.
type HealthPolicy struct {
	Start    float64
	Floor    float64
	Penalty  float64
	Reward   float64
	Cooldown time.Duration
}

// DefaultHealthPolicy matches the documented defaults.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{Start: 100, Floor: 30, Penalty: 15, Reward: 5, Cooldown: time.Hour}
}

// Provider is a registered advisor together with its health state.
type Provider struct {
	Advisor       Advisor
	Name          string
	Weight        float64
	Health        float64
	DisabledUntil time.Time
	Successes     uint64
	Failures      uint64
	LastError     string
}

// Disabled reports whether the circuit breaker is open at now.
func (p Provider) Disabled(now time.Time) bool {
	return !p.DisabledUntil.IsZero() && now.Before(p.DisabledUntil)
}

// Registry is the table of advisors keyed by name.
type Registry struct {
	clock  clock.Clock
	policy HealthPolicy
	logger *zap.Logger

	mu        sync.Mutex
	providers map[string]*Provider
	onChange  func(Provider)
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock, policy HealthPolicy, logger *zap.Logger) *Registry {
	return &Registry{
		clock:     clk,
		policy:    policy,
		logger:    logger.Named("advisors"),
		providers: make(map[string]*Provider),
	}
}

// OnChange registers a callback invoked after every health change.
func (r *Registry) OnChange(fn func(Provider)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds an advisor with a vote weight.
func (r *Registry) Register(a Advisor, weight float64) error {
	if weight <= 0 {
		weight = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[a.Name()]; ok {
		return fmt.Errorf("advisor %q already registered", a.Name())
	}
	r.providers[a.Name()] = &Provider{Advisor: a, Name: a.Name(), Weight: weight, Health: r.policy.Start}
	return nil
}

// Eligible returns providers that are enabled and at or above the health floor.
// Providers whose cool-down has elapsed are re-enabled with reset health.
func (r *Registry) Eligible() []Provider {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		r.reenableLocked(p, now)
		if p.Disabled(now) || p.Health < r.policy.Floor {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reenable re-enables every provider whose cool-down has elapsed.
func (r *Registry) Reenable() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.providers {
		if r.reenableLocked(p, now) {
			n++
		}
	}
	return n
}

func (r *Registry) reenableLocked(p *Provider, now time.Time) bool {
	if p.DisabledUntil.IsZero() || now.Before(p.DisabledUntil) {
		return false
	}
	p.DisabledUntil = time.Time{}
	p.Health = r.policy.Start
	r.logger.Info("Advisor re-enabled after cool-down", zap.String("provider", p.Name))
	r.notifyLocked(p)
	return true
}

// ReportSuccess nudges a provider's health back up.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return
	}
	p.Successes++
	p.Health += r.policy.Reward
	if p.Health > r.policy.Start {
		p.Health = r.policy.Start
	}
	r.notifyLocked(p)
}

// ReportFailure decrements health, or opens the circuit breaker on exhaustion.
func (r *Registry) ReportFailure(name string, err error) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return
	}
	p.Failures++
	if err != nil {
		p.LastError = err.Error()
	}
	if errors.Is(err, ErrExhausted) {
		p.DisabledUntil = now.Add(r.policy.Cooldown)
		r.logger.Warn("Advisor exhausted, disabled for cool-down",
			zap.String("provider", name),
			zap.Duration("cooldown", r.policy.Cooldown),
			zap.Error(err))
	} else {
		p.Health -= r.policy.Penalty
		if p.Health < 0 {
			p.Health = 0
		}
		r.logger.Debug("Advisor failure",
			zap.String("provider", name),
			zap.Float64("health", p.Health),
			zap.Error(err))
	}
	r.notifyLocked(p)
}

func (r *Registry) notifyLocked(p *Provider) {
	if r.onChange != nil {
		r.onChange(*p)
	}
}

// Snapshot returns every provider's state sorted by name.
func (r *Registry) Snapshot() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}
