// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/storage"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// newGormLogger создает новый логгер для GORM
func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 500 * time.Millisecond,
	}
}

// LogMode реализация интерфейса logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

// Info реализация интерфейса logger.Interface
func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

// Warn реализация интерфейса logger.Interface
func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

// Error реализация интерфейса logger.Interface
func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace реализация интерфейса logger.Interface
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.zapLogger.Error("Query failed", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.logLevel >= logger.Warn:
		l.zapLogger.Warn("Slow query", fields...)
	case l.logLevel >= logger.Info:
		l.zapLogger.Debug("Query", fields...)
	}
}

// postgresStorage реализует интерфейс Storage
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ storage.Storage = (*postgresStorage)(nil)

// NewStorage connects to dsn and migrates the schema.
func NewStorage(ctx context.Context, dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &postgresStorage{db: db, logger: zapLogger.Named("postgres")}
	if err := p.runMigrations(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// runMigrations применяет схему под advisory lock, чтобы несколько процессов не мигрировали одновременно.
func (p *postgresStorage) runMigrations(ctx context.Context) error {
	// Advisory locks are per session, so pin one connection.
	conn, err := p.db.DB()
	if err != nil {
		return err
	}
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer c.Close()

	var lockObtained bool
	if err := c.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(101)").Scan(&lockObtained); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer func() { _, _ = c.ExecContext(context.Background(), "SELECT pg_advisory_unlock(101)") }()

	if err := p.db.WithContext(ctx).AutoMigrate(
		&positionRow{},
		&botConfigRow{},
		&strategyRow{},
		&journalRow{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	p.logger.Info("Schema migrated")
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrDuplicateOpen
	default:
		return err
	}
}

func (p *postgresStorage) CreatePosition(ctx context.Context, pos *domain.Position) error {
	row, err := positionToRow(pos)
	if err != nil {
		return err
	}
	return translate(p.db.WithContext(ctx).Create(row).Error)
}

func (p *postgresStorage) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	row, err := positionToRow(pos)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).Model(&positionRow{ID: pos.ID}).Select("*").Omit("id").Updates(row)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *postgresStorage) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	var row positionRow
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.toDomain()
}

var activeStates = []string{
	string(domain.StateOpen),
	string(domain.StateRebought),
	string(domain.StateExiting),
}

func (p *postgresStorage) ActivePosition(ctx context.Context, wallet, token string) (*domain.Position, error) {
	var row positionRow
	err := p.db.WithContext(ctx).
		Where("wallet = ? AND token = ? AND state IN ?", wallet, token, activeStates).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.toDomain()
}

func (p *postgresStorage) PositionsByWallet(ctx context.Context, wallet string) ([]*domain.Position, error) {
	return p.findPositions(p.db.WithContext(ctx).Where("wallet = ? AND state IN ?", wallet, activeStates))
}

func (p *postgresStorage) ActivePositions(ctx context.Context) ([]*domain.Position, error) {
	return p.findPositions(p.db.WithContext(ctx).Where("state IN ?", activeStates))
}

func (p *postgresStorage) findPositions(q *gorm.DB) ([]*domain.Position, error) {
	var rows []positionRow
	if err := q.Order("opened_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Position, 0, len(rows))
	for i := range rows {
		pos, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

func (p *postgresStorage) EnabledConfigs(ctx context.Context) ([]*domain.BotConfig, error) {
	var rows []botConfigRow
	if err := p.db.WithContext(ctx).Where("enabled = ?", true).Order("wallet").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.BotConfig, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (p *postgresStorage) GetConfig(ctx context.Context, wallet string) (*domain.BotConfig, error) {
	var row botConfigRow
	if err := p.db.WithContext(ctx).Where("wallet = ?", wallet).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.toDomain(), nil
}

func (p *postgresStorage) SaveConfig(ctx context.Context, cfg *domain.BotConfig) error {
	return p.db.WithContext(ctx).Save(configToRow(cfg)).Error
}

func (p *postgresStorage) ActiveStrategy(ctx context.Context, now time.Time) (*domain.Strategy, error) {
	var row strategyRow
	err := p.db.WithContext(ctx).
		Where("created_at <= ? AND valid_until > ?", now, now).
		Order("created_at desc").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	var st domain.Strategy
	if err := sonic.Unmarshal(row.Params, &st); err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", row.ID, err)
	}
	return &st, nil
}

func (p *postgresStorage) SaveStrategy(ctx context.Context, st *domain.Strategy) error {
	params, err := sonic.Marshal(st)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(&strategyRow{
		ID:         st.ID,
		Params:     params,
		CreatedAt:  st.CreatedAt,
		ValidUntil: st.ValidUntil,
	}).Error
}

func (p *postgresStorage) AppendJournal(ctx context.Context, e *domain.JournalEntry) error {
	row, err := journalToRow(e)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(row).Error
}

func (p *postgresStorage) RecentJournal(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	var rows []journalRow
	if err := p.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.JournalEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *postgresStorage) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("state NOT IN ? AND closed_at < ?", activeStates, cutoff).Delete(&positionRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Where("created_at < ?", cutoff).Delete(&journalRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
