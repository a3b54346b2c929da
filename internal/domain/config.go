// internal/domain/config.go
package domain

import (
	"time"
)

// BotConfig is the per-wallet toggle and budget state.
type BotConfig struct {
	Wallet         string  `json:"wallet"`
	Enabled        bool    `json:"enabled"`
	TotalBudget    float64 `json:"total_budget"` // SOL
	UsedBudget     float64 `json:"used_budget"`
	MaxTradePct    float64 `json:"max_trade_pct"` // cap on mode size, percent of portfolio
	FeeExempt      bool    `json:"fee_exempt"`
	DrawdownBypass bool    `json:"drawdown_bypass"`
	PeakValue      float64 `json:"peak_value"`
	Paused         bool    `json:"paused"`
	TradesToday    int     `json:"trades_today"`
	TradeDay       string  `json:"trade_day"` // YYYY-MM-DD of TradesToday
	UpdatedAt      time.Time
}

// RemainingBudget is the budget not yet committed to open positions.
func (c *BotConfig) RemainingBudget() float64 {
	r := c.TotalBudget - c.UsedBudget
	if r < 0 {
		return 0
	}
	return r
}

// CountTrade increments the daily trade counter, rolling it over on a new day.
func (c *BotConfig) CountTrade(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if c.TradeDay != day {
		c.TradeDay = day
		c.TradesToday = 0
	}
	c.TradesToday++
}

// TradesOn returns the number of trades counted on now's day.
func (c *BotConfig) TradesOn(now time.Time) int {
	if c.TradeDay != now.UTC().Format(time.DateOnly) {
		return 0
	}
	return c.TradesToday
}

// RiskLevel labels a strategy's appetite.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Sentiment is the market mood a strategy was generated under.
type Sentiment string

const (
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
	SentimentBullish Sentiment = "bullish"
)

// Strategy is a time-boxed set of scan thresholds. It is superseded, never edited.
type Strategy struct {
	ID              string    `json:"id"`
	MinConfidence   float64   `json:"min_confidence"` // 0..1
	MinUpsidePct    float64   `json:"min_upside_pct"`
	MinLiquidityUSD float64   `json:"min_liquidity_usd"`
	MinVolumeUSD    float64   `json:"min_volume_usd"`
	MinQuality      float64   `json:"min_quality"`
	BudgetPerTrade  float64   `json:"budget_per_trade"` // SOL, 0 disables the cap
	MaxTradesPerDay int       `json:"max_trades_per_day"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Sentiment       Sentiment `json:"sentiment"`
	WinRate         float64   `json:"win_rate"`
	Samples         int       `json:"samples"`
	CreatedAt       time.Time `json:"created_at"`
	ValidUntil      time.Time `json:"valid_until"`
}

// Valid reports whether the strategy is inside its validity window.
func (s *Strategy) Valid(now time.Time) bool {
	return s != nil && !now.Before(s.CreatedAt) && now.Before(s.ValidUntil)
}

// Outcome classifies a closed round trip.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// ClassifyOutcome buckets a realized profit percentage.
func ClassifyOutcome(profitPct float64) Outcome {
	switch {
	case profitPct > 0.5:
		return OutcomeWin
	case profitPct < -0.5:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

// JournalSnapshot captures market state at one end of a round trip.
type JournalSnapshot struct {
	Price        float64   `json:"price"`
	Confidence   float64   `json:"confidence"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	Volume24h    float64   `json:"volume_24h"`
	Change24h    float64   `json:"change_24h"`
	At           time.Time `json:"at"`
}

// JournalEntry is the immutable record of one completed round trip.
type JournalEntry struct {
	ID         string          `json:"id"`
	Wallet     string          `json:"wallet"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Mode       TradeMode       `json:"mode"`
	Entry      JournalSnapshot `json:"entry"`
	Exit       JournalSnapshot `json:"exit"`
	SolIn      float64         `json:"sol_in"`
	SolOut     float64         `json:"sol_out"`
	ProfitPct  float64         `json:"profit_pct"`
	FeePaid    float64         `json:"fee_paid"`
	RebuyCount int             `json:"rebuy_count"`
	ExitReason ExitReason      `json:"exit_reason"`
	Outcome    Outcome         `json:"outcome"`
	HeldFor    time.Duration   `json:"held_for"`
	CreatedAt  time.Time       `json:"created_at"`
}
