// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateOpen is returned when a wallet already holds an active position in the token.
	ErrDuplicateOpen = errors.New("active position already exists for wallet and token")
)

// Storage определяет интерфейс для работы с хранилищем
type Storage interface {
	// Позиции
	CreatePosition(ctx context.Context, p *domain.Position) error
	UpdatePosition(ctx context.Context, p *domain.Position) error
	GetPosition(ctx context.Context, id string) (*domain.Position, error)
	ActivePosition(ctx context.Context, wallet, token string) (*domain.Position, error)
	PositionsByWallet(ctx context.Context, wallet string) ([]*domain.Position, error)
	ActivePositions(ctx context.Context) ([]*domain.Position, error)

	// Конфигурация кошельков
	EnabledConfigs(ctx context.Context) ([]*domain.BotConfig, error)
	GetConfig(ctx context.Context, wallet string) (*domain.BotConfig, error)
	SaveConfig(ctx context.Context, cfg *domain.BotConfig) error

	// Стратегии
	ActiveStrategy(ctx context.Context, now time.Time) (*domain.Strategy, error)
	SaveStrategy(ctx context.Context, s *domain.Strategy) error

	// Журнал сделок
	AppendJournal(ctx context.Context, e *domain.JournalEntry) error
	RecentJournal(ctx context.Context, limit int) ([]*domain.JournalEntry, error)

	// PurgeBefore removes closed or failed positions and journal rows older than cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
