// internal/risk/drawdown.go
package risk

import (
	"fmt"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// Drawdown pauses new entries when the portfolio falls PausePct below its
// peak and resumes once it recovers to within ResumePct.
type Drawdown struct {
	PausePct  float64
	ResumePct float64
}

// DrawdownCheck is the outcome of one drawdown update.
type DrawdownCheck struct {
	Allowed     bool
	DrawdownPct float64
	Transition  string // "", "paused" or "resumed"
	Verdict     logger.Verdict
}

// Pct returns how far value sits below peak, in percent.
func Pct(peak, value float64) float64 {
	if peak <= 0 || value >= peak {
		return 0
	}
	return (peak - value) / peak * 100
}

// Update folds the current portfolio value into cfg's peak and pause flag
// and reports whether new entries are allowed.
func (d Drawdown) Update(cfg *domain.BotConfig, value float64) DrawdownCheck {
	if value > cfg.PeakValue {
		cfg.PeakValue = value
	}
	dd := Pct(cfg.PeakValue, value)

	var transition string
	switch {
	case cfg.Paused && dd <= d.ResumePct:
		cfg.Paused = false
		transition = "resumed"
	case !cfg.Paused && dd > d.PausePct:
		cfg.Paused = true
		transition = "paused"
	}

	check := DrawdownCheck{Allowed: !cfg.Paused || cfg.DrawdownBypass, DrawdownPct: dd, Transition: transition}
	threshold := d.PausePct
	if cfg.Paused {
		threshold = d.ResumePct
	}
	check.Verdict = logger.Verdict{
		Gate:      "drawdown",
		Passed:    check.Allowed,
		Threshold: threshold,
		Measured:  dd,
	}
	switch {
	case cfg.Paused && cfg.DrawdownBypass:
		check.Verdict.Reason = fmt.Sprintf("portfolio %.1f%% below peak %.4f SOL, bypass flag set", dd, cfg.PeakValue)
	case cfg.Paused:
		check.Verdict.Reason = fmt.Sprintf("portfolio %.1f%% below peak %.4f SOL, entries paused until within %.0f%%", dd, cfg.PeakValue, d.ResumePct)
	default:
		check.Verdict.Reason = fmt.Sprintf("portfolio %.1f%% below peak", dd)
	}
	return check
}
