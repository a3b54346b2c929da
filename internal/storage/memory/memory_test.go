package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

func TestStore_OneActivePositionPerWalletToken(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreatePosition(ctx, &domain.Position{ID: "1", Wallet: "w", Token: "T", State: domain.StateOpen}))
	err := s.CreatePosition(ctx, &domain.Position{ID: "2", Wallet: "w", Token: "T", State: domain.StateOpen})
	assert.ErrorIs(t, err, storage.ErrDuplicateOpen)

	// other wallet is fine
	require.NoError(t, s.CreatePosition(ctx, &domain.Position{ID: "3", Wallet: "x", Token: "T", State: domain.StateOpen}))

	p, err := s.ActivePosition(ctx, "w", "T")
	require.NoError(t, err)
	p.State = domain.StateClosed
	require.NoError(t, s.UpdatePosition(ctx, p))

	require.NoError(t, s.CreatePosition(ctx, &domain.Position{ID: "4", Wallet: "w", Token: "T", State: domain.StateOpen}))
	active, _ := s.PositionsByWallet(ctx, "w")
	require.Len(t, active, 1)
	assert.Equal(t, "4", active[0].ID)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreatePosition(ctx, &domain.Position{ID: "1", Wallet: "w", Token: "T", State: domain.StateOpen, Quantity: 5}))

	p, _ := s.GetPosition(ctx, "1")
	p.Quantity = 0
	again, _ := s.GetPosition(ctx, "1")
	assert.Equal(t, 5.0, again.Quantity)

	_, err := s.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdatePosition(ctx, &domain.Position{ID: "missing"}), storage.ErrNotFound)
}

func TestStore_StrategyAndJournal(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.ActiveStrategy(ctx, now)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SaveStrategy(ctx, &domain.Strategy{ID: "old", CreatedAt: now.Add(-7 * time.Hour), ValidUntil: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveStrategy(ctx, &domain.Strategy{ID: "new", CreatedAt: now.Add(-time.Hour), ValidUntil: now.Add(5 * time.Hour)}))
	st, err := s.ActiveStrategy(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "new", st.ID)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendJournal(ctx, &domain.JournalEntry{ID: string(rune('a' + i)), CreatedAt: now.Add(time.Duration(i) * time.Minute)}))
	}
	recent, _ := s.RecentJournal(ctx, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "e", recent[0].ID)

	n, err := s.PurgeBefore(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_EnabledConfigs(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveConfig(ctx, &domain.BotConfig{Wallet: "b", Enabled: true}))
	require.NoError(t, s.SaveConfig(ctx, &domain.BotConfig{Wallet: "a", Enabled: false}))
	require.NoError(t, s.SaveConfig(ctx, &domain.BotConfig{Wallet: "c", Enabled: true}))

	cfgs, _ := s.EnabledConfigs(ctx)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "b", cfgs[0].Wallet)
}
