// internal/domain/position.go
package domain

import (
	"time"
)

// PositionState tracks where a position is in its lifecycle.
type PositionState string

const (
	StateScouted  PositionState = "scouted"
	StateOpen     PositionState = "open"
	StateRebought PositionState = "open_rebought"
	StateExiting  PositionState = "exiting"
	StateClosed   PositionState = "closed"
	StateFailed   PositionState = "failed"
)

// Active reports whether the position still holds tokens.
func (s PositionState) Active() bool {
	return s == StateOpen || s == StateRebought || s == StateExiting
}

// ExitReason classifies why a position left the Open states.
type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTarget       ExitReason = "profit_target"
	ExitMaxHold      ExitReason = "max_hold"
	ExitAdvisor      ExitReason = "advisor"
	ExitRotation     ExitReason = "rotation"
	ExitRebalance    ExitReason = "rebalance"
	ExitLostTrack    ExitReason = "lost_track"
	ExitSellFailed   ExitReason = "sell_failed"
)

// Position is one holding of a single token for one wallet.
type Position struct {
	ID     string        `json:"id"`
	Wallet string        `json:"wallet"`
	Token  string        `json:"token"`
	Symbol string        `json:"symbol"`
	State  PositionState `json:"state"`
	Mode   TradeMode     `json:"mode"`

	EntryPrice    float64 `json:"entry_price"`
	SolCommitted  float64 `json:"sol_committed"`
	OriginalStake float64 `json:"original_stake"`
	Quantity      float64 `json:"quantity"`

	// Confidences are stored on a 0..100 scale.
	EntryConfidence   float64 `json:"entry_confidence"`
	LastBuyConfidence float64 `json:"last_buy_confidence"`

	TargetPct   float64       `json:"target_pct"`
	StopLossPct float64       `json:"stop_loss_pct"` // negative
	MaxHold     time.Duration `json:"max_hold"`      // zero means unlimited

	PeakPrice          float64 `json:"peak_price"`
	PeakProfitPct      float64 `json:"peak_profit_pct"`
	TrailingArmed      bool    `json:"trailing_armed"`
	TrailingFloor      float64 `json:"trailing_floor"`
	RebuyCount         int     `json:"rebuy_count"`
	LowConfidenceCount int     `json:"low_confidence_count"`

	Entry   JournalSnapshot `json:"entry"`
	FeePaid float64         `json:"fee_paid"`

	LastPrice    float64   `json:"last_price"`
	LastCheckAt  time.Time `json:"last_check_at"`
	MissedPrices int       `json:"missed_prices"`

	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      time.Time  `json:"closed_at"`
	ExitReason    ExitReason `json:"exit_reason"`
	ExitPrice     float64    `json:"exit_price"`
	SolReturned   float64    `json:"sol_returned"`
	SellFailures  int        `json:"sell_failures"`
	EntrySig      string     `json:"entry_signature"`
	ExitSignature string     `json:"exit_signature"`
}

// ProfitPct is the unrealized profit at price, in percent of entry.
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// ValueAt returns the SOL value of the held quantity at price.
func (p *Position) ValueAt(price float64) float64 {
	return p.Quantity * price
}

// HeldFor returns the time since the position was opened.
func (p *Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Clone returns a copy safe to hand out of a store.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
