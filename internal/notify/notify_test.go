package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []string
	updates chan tgbot.Update
}

func (f *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, m.Text)
	}
	return tgbot.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return f.updates }
func (f *fakeBot) StopReceivingUpdates()                                  {}

func (f *fakeBot) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeLedger struct {
	err     error
	journal []*domain.JournalEntry
}

func (f fakeLedger) ActivePositions(context.Context) ([]*domain.Position, error) { return nil, f.err }

func (f fakeLedger) RecentJournal(context.Context, int) ([]*domain.JournalEntry, error) {
	return f.journal, nil
}

func command(name string) tgbot.Update {
	return tgbot.Update{Message: &tgbot.Message{
		Text:     "/" + name,
		Chat:     &tgbot.Chat{ID: 42},
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name) + 1}},
	}}
}

func TestFormat(t *testing.T) {
	now := time.Now()

	msg, ok := Format(events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed, now),
		Symbol:    "BONK", Reason: "profit_target", ProfitPct: 6.2, SolIn: 0.1, SolOut: 0.106,
		Outcome: string(domain.OutcomeWin), Wallet: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	})
	require.True(t, ok)
	assert.Contains(t, msg, "BONK")
	assert.Contains(t, msg, "+6.20%")
	assert.Contains(t, msg, "💰")

	_, ok = Format(events.JobFinishedEvent{BaseEvent: events.NewBase(events.JobFinished, now)})
	assert.False(t, ok)

	_, ok = Format(events.ProviderStatusEvent{BaseEvent: events.NewBase(events.ProviderStatus, now), Health: 0.9})
	assert.False(t, ok)
}

func TestFormatPositions(t *testing.T) {
	assert.Equal(t, "📭 No open positions", FormatPositions(nil))

	out := FormatPositions([]*domain.Position{{
		Symbol: "WIF", Mode: domain.ModeSwing, SolCommitted: 0.2, EntryPrice: 1, LastPrice: 1.1,
		Wallet: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	}})
	assert.Contains(t, out, "WIF")
	assert.Contains(t, out, "+10.00%")
}

func TestTelegram_HandleAndCommand(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbot.Update, 1)}
	ledger := fakeLedger{err: errors.New("db down"), journal: []*domain.JournalEntry{
		{Token: "T1", Mode: domain.ModeScalp, SolIn: 1, SolOut: 1.05, ProfitPct: 5, Outcome: domain.OutcomeWin},
	}}
	tg := NewTelegramWithAPI(bot, 42, ledger, zap.NewNop())

	require.NoError(t, tg.Handle(context.Background(), events.StrategyUpdatedEvent{
		BaseEvent: events.NewBase(events.StrategyUpdated, time.Now()),
		RiskLevel: "low", Sentiment: "neutral", MinConfidence: 0.7, WinRate: 0.5,
	}))
	// not formatted, not sent
	require.NoError(t, tg.Handle(context.Background(), events.JobFinishedEvent{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tg.Start(ctx)
	bot.updates <- command("positions")
	require.Eventually(t, func() bool { return len(bot.messages()) == 2 }, 3*time.Second, 20*time.Millisecond)
	bot.updates <- command("journal")
	require.Eventually(t, func() bool { return len(bot.messages()) == 3 }, 3*time.Second, 20*time.Millisecond)

	msgs := bot.messages()
	assert.Contains(t, msgs[0], "Strategy updated")
	assert.Contains(t, msgs[1], "db down")
	assert.Contains(t, msgs[2], "1 trades, 1 wins")
}

func TestTelegram_NilSafe(t *testing.T) {
	var tg *Telegram
	assert.NoError(t, tg.Send("hello"))
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(8, zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Handle(context.Background(), events.GateBlockedEvent{
		BaseEvent: events.NewBase(events.GateBlocked, time.Now()),
		Token:     "mint", Gate: "liquidity", Reason: "too thin",
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type  string         `json:"type"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, string(events.GateBlocked), got.Type)
	assert.Equal(t, "liquidity", got.Event["gate"])
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
