// internal/risk/rules.go
package risk

import (
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

// RuleConfig holds the red-flag thresholds of the deterministic fallback.
type RuleConfig struct {
	MinLiquidityUSD float64
	SpikePct        float64
	MinAge          time.Duration
	DumpPct         float64
}

// DefaultRuleConfig returns the documented thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{MinLiquidityUSD: 10_000, SpikePct: 100, MinAge: time.Hour, DumpPct: -20}
}

// Fixed penalties per red flag.
const (
	PenaltyUnlocked     = 30
	PenaltyLowLiquidity = 25
	PenaltySpike        = 20
	PenaltyYoung        = 15
	PenaltyDump         = 10
)

// RuleScore sums fixed penalties for every red flag the snapshot shows.
func RuleScore(s domain.TokenSnapshot, now time.Time, cfg RuleConfig) (float64, []string) {
	var (
		score float64
		flags []string
	)
	if s.Liquidity == domain.LockUnlocked {
		score += PenaltyUnlocked
		flags = append(flags, "liquidity unlocked")
	}
	if s.LiquidityUSD < cfg.MinLiquidityUSD {
		score += PenaltyLowLiquidity
		flags = append(flags, fmt.Sprintf("liquidity $%.0f below $%.0f", s.LiquidityUSD, cfg.MinLiquidityUSD))
	}
	if s.Change1h > cfg.SpikePct {
		score += PenaltySpike
		flags = append(flags, fmt.Sprintf("1h spike %+.0f%%", s.Change1h))
	}
	if age := s.Age(now); age > 0 && age < cfg.MinAge {
		score += PenaltyYoung
		flags = append(flags, fmt.Sprintf("pair age %s", age.Round(time.Minute)))
	}
	if s.Change24h < cfg.DumpPct {
		score += PenaltyDump
		flags = append(flags, fmt.Sprintf("24h momentum %+.0f%%", s.Change24h))
	}
	return score, flags
}
