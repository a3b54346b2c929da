// internal/market/scores.go
package market

import (
	"math"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

// OrganicScore estimates how much of the flow is real trading, 0..100.
// Balanced buy/sell counts and a reasonable volume per trade score high;
// one-sided flow and a handful of huge trades score low.
func OrganicScore(s domain.TokenSnapshot) float64 {
	trades := s.Buys24h + s.Sells24h
	if trades == 0 {
		return 0
	}
	balance := 1 - math.Abs(float64(s.Buys24h-s.Sells24h))/float64(trades)

	// trades per $1k of volume; wash volume shows few trades for much volume
	density := 0.0
	if s.Volume24h > 0 {
		density = math.Min(float64(trades)/(s.Volume24h/1000), 1)
	}
	breadth := math.Min(math.Log10(float64(trades)+1)/3, 1) // 1000 trades saturates

	return round1(100 * (0.4*balance + 0.3*density + 0.3*breadth))
}

// QualityScore blends liquidity depth, volume, pair age and organic flow, 0..100.
func QualityScore(s domain.TokenSnapshot, now time.Time) float64 {
	liq := math.Min(math.Log10(s.LiquidityUSD+1)/6, 1) // $1M saturates
	vol := math.Min(math.Log10(s.Volume24h+1)/7, 1)    // $10M saturates
	age := 0.0
	if a := s.Age(now); a > 0 {
		age = math.Min(a.Hours()/72, 1)
	}
	return round1(100 * (0.35*liq + 0.25*vol + 0.15*age + 0.25*s.OrganicScore/100))
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
