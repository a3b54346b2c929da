// internal/sizing/modes.go
package sizing

import (
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

// Range is a parameter interpolated linearly across a confidence band.
type Range struct {
	Low  float64
	High float64
}

func (r Range) at(t float64) float64 { return r.Low + (r.High-r.Low)*t }

// Band maps a confidence interval [MinConf, MaxConf) to a trade mode.
type Band struct {
	Mode      domain.TradeMode
	MinConf   float64
	MaxConf   float64 // exclusive, except for the top band
	SizePct   Range   // percent of portfolio value
	TargetPct Range
	StopPct   Range // negative percentages
	MaxHold   [2]time.Duration
	// MinAdvisorProfitPct holds back advisor SELL votes below this profit.
	MinAdvisorProfitPct float64
}

// Params are the concrete trade parameters for one confidence value.
type Params struct {
	Mode                domain.TradeMode
	Confidence          float64
	SizePct             float64
	TargetPct           float64
	StopLossPct         float64
	MaxHold             time.Duration // zero means unlimited
	MinAdvisorProfitPct float64
}

// Modes is the ordered set of bands, lowest confidence first.
type Modes []Band

// DefaultModes returns the SCALP, QUICK_2X and SWING bands.
func DefaultModes() Modes {
	return Modes{
		{
			Mode: domain.ModeScalp, MinConf: 0.52, MaxConf: 0.78,
			SizePct: Range{2, 5}, TargetPct: Range{3, 5}, StopPct: Range{-3, -3.5},
			MaxHold:             [2]time.Duration{30 * time.Minute, time.Hour},
			MinAdvisorProfitPct: 1,
		},
		{
			Mode: domain.ModeQuick2x, MinConf: 0.78, MaxConf: 0.88,
			SizePct: Range{5, 8}, TargetPct: Range{50, 100}, StopPct: Range{-8, -10},
			MaxHold:             [2]time.Duration{4 * time.Hour, 8 * time.Hour},
			MinAdvisorProfitPct: 3,
		},
		{
			Mode: domain.ModeSwing, MinConf: 0.88, MaxConf: 1.0,
			SizePct: Range{8, 12}, TargetPct: Range{100, 200}, StopPct: Range{-12, -15},
			MinAdvisorProfitPct: 5,
		},
	}
}

// Select returns the parameters for a consensus confidence. Confidence below
// the lowest band means no trade.
func (m Modes) Select(confidence float64) (Params, bool) {
	for i, b := range m {
		top := i == len(m)-1
		if confidence < b.MinConf || (!top && confidence >= b.MaxConf) {
			continue
		}
		return b.params(confidence), true
	}
	return Params{}, false
}

// Band returns the band for a mode.
func (m Modes) Band(mode domain.TradeMode) (Band, bool) {
	for _, b := range m {
		if b.Mode == mode {
			return b, true
		}
	}
	return Band{}, false
}

// MinConfidence is the lowest confidence that opens a trade.
func (m Modes) MinConfidence() float64 {
	if len(m) == 0 {
		return 1
	}
	return m[0].MinConf
}

func (b Band) params(conf float64) Params {
	t := 0.0
	if span := b.MaxConf - b.MinConf; span > 0 {
		t = (conf - b.MinConf) / span
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	hold := time.Duration(float64(b.MaxHold[0]) + float64(b.MaxHold[1]-b.MaxHold[0])*t)
	return Params{
		Mode:                b.Mode,
		Confidence:          conf,
		SizePct:             b.SizePct.at(t),
		TargetPct:           b.TargetPct.at(t),
		StopLossPct:         b.StopPct.at(t),
		MaxHold:             hold.Round(time.Minute),
		MinAdvisorProfitPct: b.MinAdvisorProfitPct,
	}
}
