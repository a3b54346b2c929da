// internal/storage/postgres/models.go
package postgres

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

// positionRow is one Position. Only one active row per wallet and token is
// allowed, enforced by a partial unique index.
type positionRow struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	Wallet string `gorm:"not null;type:varchar(44);index;uniqueIndex:idx_active_position,where:state IN ('open','open_rebought','exiting')"`
	Token  string `gorm:"not null;type:varchar(44);uniqueIndex:idx_active_position,where:state IN ('open','open_rebought','exiting')"`
	Symbol string `gorm:"type:varchar(32)"`
	State  string `gorm:"not null;type:varchar(20);index"`
	Mode   string `gorm:"not null;type:varchar(16)"`

	EntryPrice    float64
	SolCommitted  float64
	OriginalStake float64
	Quantity      float64

	EntryConfidence   float64
	LastBuyConfidence float64
	TargetPct         float64
	StopLossPct       float64
	MaxHold           time.Duration

	PeakPrice          float64
	PeakProfitPct      float64
	TrailingArmed      bool
	TrailingFloor      float64
	RebuyCount         int
	LowConfidenceCount int

	Entry   datatypes.JSON `gorm:"type:jsonb"`
	FeePaid float64

	LastPrice    float64
	LastCheckAt  time.Time `gorm:"type:timestamptz"`
	MissedPrices int

	OpenedAt      time.Time `gorm:"type:timestamptz;index"`
	ClosedAt      time.Time `gorm:"type:timestamptz;index"`
	ExitReason    string    `gorm:"type:varchar(20)"`
	ExitPrice     float64
	SolReturned   float64
	SellFailures  int
	EntrySig      string `gorm:"type:varchar(100)"`
	ExitSignature string `gorm:"type:varchar(100)"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (positionRow) TableName() string { return "positions" }

func positionToRow(p *domain.Position) (*positionRow, error) {
	entry, err := sonic.Marshal(p.Entry)
	if err != nil {
		return nil, err
	}
	return &positionRow{
		ID: p.ID, Wallet: p.Wallet, Token: p.Token, Symbol: p.Symbol,
		State: string(p.State), Mode: string(p.Mode),
		EntryPrice: p.EntryPrice, SolCommitted: p.SolCommitted, OriginalStake: p.OriginalStake, Quantity: p.Quantity,
		EntryConfidence: p.EntryConfidence, LastBuyConfidence: p.LastBuyConfidence,
		TargetPct: p.TargetPct, StopLossPct: p.StopLossPct, MaxHold: p.MaxHold,
		PeakPrice: p.PeakPrice, PeakProfitPct: p.PeakProfitPct, TrailingArmed: p.TrailingArmed, TrailingFloor: p.TrailingFloor,
		RebuyCount: p.RebuyCount, LowConfidenceCount: p.LowConfidenceCount,
		Entry: datatypes.JSON(entry), FeePaid: p.FeePaid,
		LastPrice: p.LastPrice, LastCheckAt: p.LastCheckAt, MissedPrices: p.MissedPrices,
		OpenedAt: p.OpenedAt, ClosedAt: p.ClosedAt, ExitReason: string(p.ExitReason), ExitPrice: p.ExitPrice,
		SolReturned: p.SolReturned, SellFailures: p.SellFailures, EntrySig: p.EntrySig, ExitSignature: p.ExitSignature,
	}, nil
}

func (r *positionRow) toDomain() (*domain.Position, error) {
	p := &domain.Position{
		ID: r.ID, Wallet: r.Wallet, Token: r.Token, Symbol: r.Symbol,
		State: domain.PositionState(r.State), Mode: domain.TradeMode(r.Mode),
		EntryPrice: r.EntryPrice, SolCommitted: r.SolCommitted, OriginalStake: r.OriginalStake, Quantity: r.Quantity,
		EntryConfidence: r.EntryConfidence, LastBuyConfidence: r.LastBuyConfidence,
		TargetPct: r.TargetPct, StopLossPct: r.StopLossPct, MaxHold: r.MaxHold,
		PeakPrice: r.PeakPrice, PeakProfitPct: r.PeakProfitPct, TrailingArmed: r.TrailingArmed, TrailingFloor: r.TrailingFloor,
		RebuyCount: r.RebuyCount, LowConfidenceCount: r.LowConfidenceCount,
		FeePaid:   r.FeePaid,
		LastPrice: r.LastPrice, LastCheckAt: r.LastCheckAt, MissedPrices: r.MissedPrices,
		OpenedAt: r.OpenedAt, ClosedAt: r.ClosedAt, ExitReason: domain.ExitReason(r.ExitReason), ExitPrice: r.ExitPrice,
		SolReturned: r.SolReturned, SellFailures: r.SellFailures, EntrySig: r.EntrySig, ExitSignature: r.ExitSignature,
	}
	if len(r.Entry) > 0 {
		if err := sonic.Unmarshal(r.Entry, &p.Entry); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type botConfigRow struct {
	Wallet         string `gorm:"primaryKey;type:varchar(44)"`
	Enabled        bool   `gorm:"index"`
	TotalBudget    float64
	UsedBudget     float64
	MaxTradePct    float64
	FeeExempt      bool
	DrawdownBypass bool
	PeakValue      float64
	Paused         bool
	TradesToday    int
	TradeDay       string    `gorm:"type:varchar(10)"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (botConfigRow) TableName() string { return "bot_configs" }

func configToRow(c *domain.BotConfig) *botConfigRow {
	return &botConfigRow{
		Wallet: c.Wallet, Enabled: c.Enabled, TotalBudget: c.TotalBudget, UsedBudget: c.UsedBudget,
		MaxTradePct: c.MaxTradePct, FeeExempt: c.FeeExempt, DrawdownBypass: c.DrawdownBypass,
		PeakValue: c.PeakValue, Paused: c.Paused, TradesToday: c.TradesToday, TradeDay: c.TradeDay,
	}
}

func (r *botConfigRow) toDomain() *domain.BotConfig {
	return &domain.BotConfig{
		Wallet: r.Wallet, Enabled: r.Enabled, TotalBudget: r.TotalBudget, UsedBudget: r.UsedBudget,
		MaxTradePct: r.MaxTradePct, FeeExempt: r.FeeExempt, DrawdownBypass: r.DrawdownBypass,
		PeakValue: r.PeakValue, Paused: r.Paused, TradesToday: r.TradesToday, TradeDay: r.TradeDay,
		UpdatedAt: r.UpdatedAt,
	}
}

// strategyRow is append-only.
type strategyRow struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)"`
	Params     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"type:timestamptz;index"`
	ValidUntil time.Time      `gorm:"type:timestamptz;index"`
}

func (strategyRow) TableName() string { return "strategies" }

type journalRow struct {
	ID         string           `gorm:"primaryKey;type:varchar(36)"`
	Wallet     string           `gorm:"not null;type:varchar(44);index"`
	Token      string           `gorm:"not null;type:varchar(44)"`
	Symbol     string           `gorm:"type:varchar(32)"`
	Mode       string           `gorm:"type:varchar(16)"`
	Entry      datatypes.JSON   `gorm:"type:jsonb"`
	Exit       datatypes.JSON   `gorm:"type:jsonb"`
	SolIn      decimal.Decimal  `gorm:"type:numeric(30,12)"`
	SolOut     decimal.Decimal  `gorm:"type:numeric(30,12)"`
	ProfitPct  *decimal.Decimal `gorm:"type:numeric(20,6)"`
	FeePaid    decimal.Decimal  `gorm:"type:numeric(30,12)"`
	RebuyCount int
	ExitReason string        `gorm:"type:varchar(20)"`
	Outcome    string        `gorm:"type:varchar(20);index"`
	HeldFor    time.Duration `gorm:"column:held_for_ns"`
	CreatedAt  time.Time     `gorm:"type:timestamptz;index"`
}

func (journalRow) TableName() string { return "trade_journal" }

func journalToRow(e *domain.JournalEntry) (*journalRow, error) {
	entry, err := sonic.Marshal(e.Entry)
	if err != nil {
		return nil, err
	}
	exit, err := sonic.Marshal(e.Exit)
	if err != nil {
		return nil, err
	}
	profit := decimal.NewFromFloat(e.ProfitPct)
	return &journalRow{
		ID: e.ID, Wallet: e.Wallet, Token: e.Token, Symbol: e.Symbol, Mode: string(e.Mode),
		Entry: datatypes.JSON(entry), Exit: datatypes.JSON(exit),
		SolIn: decimal.NewFromFloat(e.SolIn), SolOut: decimal.NewFromFloat(e.SolOut),
		ProfitPct: &profit, FeePaid: decimal.NewFromFloat(e.FeePaid),
		RebuyCount: e.RebuyCount, ExitReason: string(e.ExitReason), Outcome: string(e.Outcome),
		HeldFor: e.HeldFor, CreatedAt: e.CreatedAt,
	}, nil
}

func (r *journalRow) toDomain() (*domain.JournalEntry, error) {
	e := &domain.JournalEntry{
		ID: r.ID, Wallet: r.Wallet, Token: r.Token, Symbol: r.Symbol, Mode: domain.TradeMode(r.Mode),
		SolIn: r.SolIn.InexactFloat64(), SolOut: r.SolOut.InexactFloat64(), FeePaid: r.FeePaid.InexactFloat64(),
		RebuyCount: r.RebuyCount, ExitReason: domain.ExitReason(r.ExitReason), Outcome: domain.Outcome(r.Outcome),
		HeldFor: r.HeldFor, CreatedAt: r.CreatedAt,
	}
	if r.ProfitPct != nil {
		e.ProfitPct = r.ProfitPct.InexactFloat64()
	}
	if err := sonic.Unmarshal(r.Entry, &e.Entry); err != nil {
		return nil, err
	}
	if err := sonic.Unmarshal(r.Exit, &e.Exit); err != nil {
		return nil, err
	}
	return e, nil
}
