// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/export"
)

// BotAPI is the part of *tgbot.BotAPI used by Telegram.
type BotAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Ledger answers the chat commands.
type Ledger interface {
	ActivePositions(ctx context.Context) ([]*domain.Position, error)
	RecentJournal(ctx context.Context, limit int) ([]*domain.JournalEntry, error)
}

// journalWindow is how many round trips /journal summarizes.
const journalWindow = 100

// Telegram: пассивный нотифайер событий бота + команды /positions и /journal.
type Telegram struct {
	bot       BotAPI
	chatID    int64
	positions Ledger
	limiter   ratelimit.Limiter
	logger    *zap.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, chatID int64, positions Ledger, logger *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegramWithAPI(b, chatID, positions, logger), nil
}

// NewTelegramWithAPI builds a notifier around an existing client.
func NewTelegramWithAPI(bot BotAPI, chatID int64, positions Ledger, logger *zap.Logger) *Telegram {
	return &Telegram{
		bot:       bot,
		chatID:    chatID,
		positions: positions,
		// Telegram allows about one message per second in a single chat.
		limiter: ratelimit.New(1),
		logger:  logger.Named("telegram"),
	}
}

// Send posts a plain message to the configured chat.
func (t *Telegram) Send(msg string) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	t.limiter.Take()
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.logger.Warn("Failed to send message", zap.Error(err))
		return err
	}
	return nil
}

// Handle implements events.Handler.
func (t *Telegram) Handle(_ context.Context, ev events.Event) error {
	msg, ok := Format(ev)
	if !ok {
		return nil
	}
	return t.Send(msg)
}

// Start: long-polling для команд из чата.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) handleUpdate(ctx context.Context, upd tgbot.Update) {
	if upd.Message == nil || upd.Message.Chat == nil || upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
		return
	}
	switch upd.Message.Command() {
	case "positions":
		if t.positions == nil {
			return
		}
		list, err := t.positions.ActivePositions(ctx)
		if err != nil {
			_ = t.Send(fmt.Sprintf("❗️ Failed to load positions: %v", err))
			return
		}
		_ = t.Send(FormatPositions(list))
	case "journal":
		if t.positions == nil {
			return
		}
		entries, err := t.positions.RecentJournal(ctx, journalWindow)
		if err != nil {
			_ = t.Send(fmt.Sprintf("❗️ Failed to load journal: %v", err))
			return
		}
		_ = t.Send(export.Summarize(entries).Text())
	}
}
