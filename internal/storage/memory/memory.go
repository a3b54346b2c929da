// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// Store keeps everything in process memory. Returned records are copies.
type Store struct {
	mu         sync.RWMutex
	positions  map[string]*domain.Position
	configs    map[string]*domain.BotConfig
	strategies []*domain.Strategy
	journal    []*domain.JournalEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		positions: make(map[string]*domain.Position),
		configs:   make(map[string]*domain.BotConfig),
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) CreatePosition(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.State.Active() {
		for _, existing := range s.positions {
			if existing.Wallet == p.Wallet && existing.Token == p.Token && existing.State.Active() {
				return storage.ErrDuplicateOpen
			}
		}
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *Store) UpdatePosition(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return storage.ErrNotFound
	}
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetPosition(_ context.Context, id string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) ActivePosition(_ context.Context, wallet, token string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.Wallet == wallet && p.Token == token && p.State.Active() {
			return p.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) PositionsByWallet(_ context.Context, wallet string) ([]*domain.Position, error) {
	return s.active(func(p *domain.Position) bool { return p.Wallet == wallet }), nil
}

func (s *Store) ActivePositions(context.Context) ([]*domain.Position, error) {
	return s.active(func(*domain.Position) bool { return true }), nil
}

func (s *Store) active(match func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.State.Active() && match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (s *Store) EnabledConfigs(context.Context) ([]*domain.BotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.BotConfig
	for _, c := range s.configs {
		if c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

func (s *Store) GetConfig(_ context.Context, wallet string) (*domain.BotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[wallet]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SaveConfig(_ context.Context, cfg *domain.BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.Wallet] = &cp
	return nil
}

func (s *Store) ActiveStrategy(_ context.Context, now time.Time) (*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.strategies) - 1; i >= 0; i-- {
		if s.strategies[i].Valid(now) {
			cp := *s.strategies[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) SaveStrategy(_ context.Context, st *domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.strategies = append(s.strategies, &cp)
	return nil
}

func (s *Store) AppendJournal(_ context.Context, e *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.journal = append(s.journal, &cp)
	return nil
}

func (s *Store) RecentJournal(_ context.Context, limit int) ([]*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.JournalEntry, 0, limit)
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.journal[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.positions {
		if !p.State.Active() && p.ClosedAt.Before(cutoff) {
			delete(s.positions, id)
			n++
		}
	}
	kept := s.journal[:0]
	for _, e := range s.journal {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.journal = kept
	return n, nil
}

func (s *Store) Close() error { return nil }
