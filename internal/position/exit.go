// internal/position/exit.go
package position

import (
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// ExitConfig holds the exit thresholds shared by all modes.
type ExitConfig struct {
	TrailingArmPct      float64 // profit that arms the trailing stop
	TrailingDistancePct float64 // floor distance below peak
	AdvisorStreak       int     // consecutive low readings before an advisor exit
	LowConfidence       float64 // readings below this count as low
	AdvisorSellMinConf  float64 // SELL confidence needed to take profit
}

func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		TrailingArmPct:      1.5,
		TrailingDistancePct: 3,
		AdvisorStreak:       3,
		LowConfidence:       0.5,
		AdvisorSellMinConf:  0.6,
	}
}

// Observe folds a new price into the peak and trailing stop state.
// The floor only ever ratchets up.
func Observe(p *domain.Position, price float64, cfg ExitConfig) {
	if price <= 0 {
		return
	}
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	if peak := p.ProfitPct(p.PeakPrice); peak > p.PeakProfitPct {
		p.PeakProfitPct = peak
	}
	if !p.TrailingArmed && p.PeakProfitPct >= cfg.TrailingArmPct {
		p.TrailingArmed = true
	}
	if p.TrailingArmed {
		floor := p.PeakPrice * (1 - cfg.TrailingDistancePct/100)
		if floor > p.TrailingFloor {
			p.TrailingFloor = floor
		}
	}
}

// TrailingBreached reports whether price is under an armed floor.
func TrailingBreached(p *domain.Position, price float64) bool {
	return p.TrailingArmed && price < p.TrailingFloor
}

// MechanicalExit evaluates the price-driven exits in priority order:
// stop-loss, trailing stop, profit target, max hold. SWING carries no max
// hold, so only the first three apply to it.
func MechanicalExit(p *domain.Position, price float64, now time.Time) (domain.ExitReason, logger.Verdict, bool) {
	profit := p.ProfitPct(price)

	if profit <= p.StopLossPct {
		return domain.ExitStopLoss, logger.Verdict{
			Gate: "stop_loss", Threshold: p.StopLossPct, Measured: profit,
			Reason: "profit at or below stop-loss",
		}, true
	}
	if TrailingBreached(p, price) {
		return domain.ExitTrailingStop, logger.Verdict{
			Gate: "trailing_stop", Threshold: p.TrailingFloor, Measured: price,
			Reason: fmt.Sprintf("price fell below floor, peak profit %.2f%%", p.PeakProfitPct),
		}, true
	}
	if p.TargetPct > 0 && profit >= p.TargetPct {
		return domain.ExitTarget, logger.Verdict{
			Gate: "profit_target", Threshold: p.TargetPct, Measured: profit,
			Reason: "profit target reached",
		}, true
	}
	if p.MaxHold > 0 {
		held := p.HeldFor(now)
		if held >= p.MaxHold {
			return domain.ExitMaxHold, logger.Verdict{
				Gate: "max_hold", Threshold: p.MaxHold.Minutes(), Measured: held.Minutes(),
				Reason: "held past max hold without reaching target",
			}, true
		}
	}
	return domain.ExitNone, logger.Verdict{}, false
}

// Reading is one consensus re-evaluation of an open position.
type Reading struct {
	Action     domain.Action
	Confidence float64 // 0..1; zero for an insufficient quorum
	// Cached readings were already counted when fresh and never advance
	// the low-confidence streak.
	Cached bool
}

// AdviceOutcome is the result of applying a reading.
type AdviceOutcome struct {
	Exit    bool
	Reason  domain.ExitReason
	Verdict logger.Verdict
}

// ApplyReading updates the low-confidence streak and decides whether the
// advisors' view justifies an exit. minProfitPct is the mode's floor under
// which a SELL vote is held back.
func ApplyReading(p *domain.Position, price float64, r Reading, minProfitPct float64, cfg ExitConfig) AdviceOutcome {
	profit := p.ProfitPct(price)
	low := r.Action == domain.ActionSell || r.Confidence < cfg.LowConfidence

	switch {
	case profit > 0 || !low:
		p.LowConfidenceCount = 0
	case r.Cached:
	default:
		p.LowConfidenceCount++
	}

	if p.LowConfidenceCount >= cfg.AdvisorStreak {
		underwater := price < p.EntryPrice
		if underwater || TrailingBreached(p, price) {
			return AdviceOutcome{Exit: true, Reason: domain.ExitAdvisor, Verdict: logger.Verdict{
				Gate: "advisor_streak", Passed: true, Threshold: float64(cfg.AdvisorStreak), Measured: float64(p.LowConfidenceCount),
				Reason: "consecutive low-confidence readings while under entry",
			}}
		}
	}

	if r.Action != domain.ActionSell {
		return AdviceOutcome{}
	}
	if r.Confidence >= cfg.AdvisorSellMinConf && profit >= minProfitPct {
		return AdviceOutcome{Exit: true, Reason: domain.ExitAdvisor, Verdict: logger.Verdict{
			Gate: "advisor_sell", Passed: true, Threshold: minProfitPct, Measured: profit,
			Reason: fmt.Sprintf("advisors sell at %.0f%% confidence", r.Confidence*100),
		}}
	}
	return AdviceOutcome{Verdict: logger.Verdict{
		Gate: "advisor_sell", Threshold: minProfitPct, Measured: profit,
		Reason: "sell vote held back below mode profit floor",
	}}
}
