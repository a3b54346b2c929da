// internal/domain/trade.go
package domain

import (
	"strings"
	"time"
)

// Action is the recommendation produced by an advisor or by consensus.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes free-form advisor output. Anything unknown is HOLD.
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "ACCUMULATE":
		return ActionBuy
	case "SELL", "EXIT", "CLOSE":
		return ActionSell
	default:
		return ActionHold
	}
}

// TradeMode is the discrete trading style selected from consensus confidence.
type TradeMode string

const (
	ModeScalp   TradeMode = "SCALP"
	ModeQuick2x TradeMode = "QUICK_2X"
	ModeSwing   TradeMode = "SWING"
)

// Vote is one advisor's opinion on a token or a position.
type Vote struct {
	Provider           string  `json:"provider"`
	Action             Action  `json:"action"`
	Confidence         float64 `json:"confidence"` // 0..1
	Reasoning          string  `json:"reasoning"`
	PotentialUpsidePct float64 `json:"potential_upside_pct"`
	RiskLevel          string  `json:"risk_level"`
	Weight             float64 `json:"weight"`
}

// LockStatus reports what is known about a pool's liquidity lock.
type LockStatus int

const (
	LockUnknown LockStatus = iota
	LockLocked
	LockUnlocked
)

// TokenSnapshot is a cache-only view of a token's market state.
type TokenSnapshot struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	PairAddress string `json:"pair_address"`
	DexID       string `json:"dex_id"`

	PriceUSD    float64 `json:"price_usd"`
	PriceNative float64 `json:"price_native"` // SOL per token

	Change5m  float64 `json:"change_5m"`
	Change1h  float64 `json:"change_1h"`
	Change24h float64 `json:"change_24h"`

	Volume1h     float64 `json:"volume_1h"`
	Volume24h    float64 `json:"volume_24h"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Buys1h       int     `json:"buys_1h"`
	Sells1h      int     `json:"sells_1h"`
	Buys24h      int     `json:"buys_24h"`
	Sells24h     int     `json:"sells_24h"`

	PairCreatedAt time.Time  `json:"pair_created_at"`
	Liquidity     LockStatus `json:"liquidity_lock"`

	OrganicScore float64 `json:"organic_score"` // 0..100
	QualityScore float64 `json:"quality_score"` // 0..100

	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long the pair has existed, or zero when unknown.
func (s TokenSnapshot) Age(now time.Time) time.Duration {
	if s.PairCreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.PairCreatedAt)
}

// DiscoveryFilter selects tokens during discovery. It doubles as the cache key.
type DiscoveryFilter struct {
	Query           string  `json:"query"`
	MinLiquidityUSD float64 `json:"min_liquidity_usd"`
	MinVolumeUSD    float64 `json:"min_volume_usd"`
	Limit           int     `json:"limit"`
}
