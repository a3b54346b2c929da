// internal/health/state.go
package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
)

// StatusSource reports job state. Satisfied by *scheduler.Scheduler.
type StatusSource interface {
	Statuses() []scheduler.JobStatus
}

// State is the process readiness shared between the lifecycle and the
// health endpoints.
type State struct {
	clock     clock.Clock
	startedAt time.Time
	ready     atomic.Bool
	jobs      StatusSource

	mu      sync.RWMutex
	details map[string]func() any
}

func NewState(clk clock.Clock, jobs StatusSource) *State {
	if clk == nil {
		clk = clock.New()
	}
	return &State{clock: clk, startedAt: clk.Now(), jobs: jobs, details: make(map[string]func() any)}
}

// AddDetail adds a named section to the /healthz report. fn is called on
// every request and must be safe for concurrent use.
func (s *State) AddDetail(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[name] = fn
}

func (s *State) snapshotDetails() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.details) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.details))
	for name, fn := range s.details {
		out[name] = fn()
	}
	return out
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) Uptime() time.Duration { return s.clock.Now().Sub(s.startedAt) }
