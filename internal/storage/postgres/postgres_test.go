package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// setupTestDB starts a PostgreSQL container and returns a migrated store.
func setupTestDB(t *testing.T) storage.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("autotrader"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := NewStorage(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgres_PositionLifecycle(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	pos := &domain.Position{
		ID: "p1", Wallet: "wallet", Token: "mint", Symbol: "TKN",
		State: domain.StateOpen, Mode: domain.ModeScalp,
		EntryPrice: 0.001, SolCommitted: 0.1, OriginalStake: 0.1, Quantity: 100,
		EntryConfidence: 70, LastBuyConfidence: 70, TargetPct: 3, StopLossPct: -3, MaxHold: 30 * time.Minute,
		Entry:    domain.JournalSnapshot{Price: 0.001, Confidence: 70, At: now},
		OpenedAt: now,
	}
	require.NoError(t, st.CreatePosition(ctx, pos))

	dup := *pos
	dup.ID = "p2"
	assert.ErrorIs(t, st.CreatePosition(ctx, &dup), storage.ErrDuplicateOpen)

	got, err := st.ActivePosition(ctx, "wallet", "mint")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got.MaxHold)
	assert.Equal(t, 70.0, got.Entry.Confidence)

	got.State = domain.StateClosed
	got.ClosedAt = now
	got.ExitReason = domain.ExitTarget
	require.NoError(t, st.UpdatePosition(ctx, got))

	_, err = st.ActivePosition(ctx, "wallet", "mint")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// closed rows do not block a new open
	require.NoError(t, st.CreatePosition(ctx, &dup))

	n, err := st.PurgeBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgres_ConfigStrategyJournal(t *testing.T) {
	st := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, st.SaveConfig(ctx, &domain.BotConfig{Wallet: "a", Enabled: true, TotalBudget: 5}))
	require.NoError(t, st.SaveConfig(ctx, &domain.BotConfig{Wallet: "b"}))
	cfgs, err := st.EnabledConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, 5.0, cfgs[0].TotalBudget)

	require.NoError(t, st.SaveStrategy(ctx, &domain.Strategy{ID: "s1", MinConfidence: 0.6, CreatedAt: now.Add(-time.Minute), ValidUntil: now.Add(time.Hour)}))
	s, err := st.ActiveStrategy(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0.6, s.MinConfidence)

	require.NoError(t, st.AppendJournal(ctx, &domain.JournalEntry{
		ID: "j1", Wallet: "a", Token: "mint", SolIn: 0.1, SolOut: 0.12, ProfitPct: 20,
		Outcome: domain.OutcomeWin, Entry: domain.JournalSnapshot{Price: 1}, Exit: domain.JournalSnapshot{Price: 1.2},
		CreatedAt: now,
	}))
	entries, err := st.RecentJournal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.12, entries[0].SolOut, 1e-12)
	assert.Equal(t, 1.2, entries[0].Exit.Price)
}
