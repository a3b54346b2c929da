// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// All subscribes a handler to every event type.
	All EventType = "*"

	// Position lifecycle
	PositionOpened   EventType = "position.opened"
	PositionRebought EventType = "position.rebought"
	PositionClosed   EventType = "position.closed"
	PositionFailed   EventType = "position.failed"
	PositionLost     EventType = "position.lost_track"

	// Trading decisions
	TradeFailed EventType = "trade.failed"
	GateBlocked EventType = "gate.blocked"

	// Portfolio and risk
	PortfolioUpdated EventType = "portfolio.updated"
	DrawdownChanged  EventType = "drawdown.changed"
	StrategyUpdated  EventType = "strategy.updated"

	// Infrastructure
	JobFinished    EventType = "job.finished"
	ProviderStatus EventType = "provider.status"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"time"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event header.
func NewBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventType: t, EventTime: at}
}

// PositionOpenedEvent is emitted after a confirmed buy.
type PositionOpenedEvent struct {
	BaseEvent
	PositionID string  `json:"position_id"`
	Wallet     string  `json:"wallet"`
	Token      string  `json:"token"`
	Symbol     string  `json:"symbol"`
	Mode       string  `json:"mode"`
	SOL        float64 `json:"sol"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Signature  string  `json:"signature"`
}

// PositionReboughtEvent is emitted when a losing position is averaged down.
type PositionReboughtEvent struct {
	BaseEvent
	PositionID string  `json:"position_id"`
	Wallet     string  `json:"wallet"`
	Token      string  `json:"token"`
	Symbol     string  `json:"symbol"`
	Added      float64 `json:"added_sol"`
	EntryPrice float64 `json:"entry_price"`
	RebuyCount int     `json:"rebuy_count"`
}

// PositionClosedEvent is emitted after a confirmed sell.
type PositionClosedEvent struct {
	BaseEvent
	PositionID string  `json:"position_id"`
	Wallet     string  `json:"wallet"`
	Token      string  `json:"token"`
	Symbol     string  `json:"symbol"`
	Reason     string  `json:"reason"`
	ProfitPct  float64 `json:"profit_pct"`
	SolIn      float64 `json:"sol_in"`
	SolOut     float64 `json:"sol_out"`
	Outcome    string  `json:"outcome"`
}

// PositionFailedEvent is emitted when a position is written off. Type is
// PositionFailed or PositionLost.
type PositionFailedEvent struct {
	BaseEvent
	PositionID string `json:"position_id"`
	Wallet     string `json:"wallet"`
	Token      string `json:"token"`
	Symbol     string `json:"symbol"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
}

// TradeFailedEvent is emitted when a swap did not execute.
type TradeFailedEvent struct {
	BaseEvent
	Wallet    string `json:"wallet"`
	Token     string `json:"token"`
	Direction string `json:"direction"`
	Error     string `json:"error"`
}

// GateBlockedEvent is emitted when a policy gate rejects a candidate.
type GateBlockedEvent struct {
	BaseEvent
	Wallet string `json:"wallet"`
	Token  string `json:"token"`
	Gate   string `json:"gate"`
	Reason string `json:"reason"`
}

// PortfolioUpdatedEvent carries a fresh portfolio valuation.
type PortfolioUpdatedEvent struct {
	BaseEvent
	Wallet          string  `json:"wallet"`
	SOL             float64 `json:"sol"`
	TotalValue      float64 `json:"total_value"`
	Available       float64 `json:"available"`
	Diversification float64 `json:"diversification"`
	Positions       int     `json:"positions"`
	// ValueUSD is zero when no SOL/USD quote was available.
	ValueUSD float64 `json:"value_usd,omitempty"`
}

// DrawdownChangedEvent is emitted when trading pauses or resumes.
type DrawdownChangedEvent struct {
	BaseEvent
	Wallet      string  `json:"wallet"`
	Paused      bool    `json:"paused"`
	DrawdownPct float64 `json:"drawdown_pct"`
	PeakValue   float64 `json:"peak_value"`
}

// StrategyUpdatedEvent is emitted when the strategy is regenerated.
type StrategyUpdatedEvent struct {
	BaseEvent
	StrategyID    string  `json:"strategy_id"`
	MinConfidence float64 `json:"min_confidence"`
	RiskLevel     string  `json:"risk_level"`
	Sentiment     string  `json:"sentiment"`
	WinRate       float64 `json:"win_rate"`
}

// JobFinishedEvent is emitted after every scheduled run.
type JobFinishedEvent struct {
	BaseEvent
	Job      string        `json:"job"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ProviderStatusEvent is emitted when an advisor changes health state.
type ProviderStatusEvent struct {
	BaseEvent
	Provider string  `json:"provider"`
	Health   float64 `json:"health"`
	Disabled bool    `json:"disabled"`
	Reason   string  `json:"reason,omitempty"`
}
