// internal/rotation/rotation.go
package rotation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// Config holds rotation thresholds.
type Config struct {
	MinHold           time.Duration
	MinConfidence     float64 // 0..1, new candidate must reach it outside emergencies
	MarginPoints      float64 // confidence points on the 0..100 scale
	LossPct           float64 // negative; weakest at or below counts as a meaningful loss
	LossMinConfidence float64 // 0..1
	EmergencySOL      float64
	Haircut           float64 // fraction shaved off expected sale proceeds
	SmallProfitPct    float64 // gains under this count as small
	OutrankedPenalty  float64 // score cut for a small gain the candidate outranks
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinHold: 30 * time.Minute, MinConfidence: 0.78, MarginPoints: 15,
		LossPct: -10, LossMinConfidence: 0.8, EmergencySOL: 0.02, Haircut: 0.03,
		SmallProfitPct: 10, OutrankedPenalty: 25,
	}
}

// Holding is an open position with its current price.
type Holding struct {
	Position *domain.Position
	Price    float64
}

// Scored is a rotation candidate.
type Scored struct {
	Holding
	ProfitPct        float64
	Score            float64
	ExpectedProceeds float64
}

// Request describes the unfundable opportunity.
type Request struct {
	Token         string
	NewConfidence float64 // 0..1
	Required      float64 // SOL
	Available     float64 // SOL
	Holdings      []Holding
	Now           time.Time
}

// Plan is a decided rotation.
type Plan struct {
	Victim    Scored
	Emergency bool
	Reason    string
}

// Score combines entry confidence and profit. A small gain on a position
// whose entry confidence is below the candidate's scores lowest; large
// winners score high and are protected. Losses add no profit weight: they
// are reached through the meaningful-loss rule in Decide.
// Confidences are on the 0..100 scale.
func Score(entryConfidence, profitPct, candidateConfidence float64, cfg Config) float64 {
	score := entryConfidence + math.Max(0, math.Min(100, profitPct))*1.5
	if profitPct >= 0 && profitPct < cfg.SmallProfitPct && entryConfidence < candidateConfidence {
		score -= cfg.OutrankedPenalty
	}
	return score
}

// Rank scores every eligible holding against a candidate confidence
// (0..100), weakest first.
func Rank(holdings []Holding, candidateConfidence float64, now time.Time, cfg Config) []Scored {
	out := make([]Scored, 0, len(holdings))
	for _, h := range holdings {
		p := h.Position
		if p == nil || !p.State.Active() || p.State == domain.StateExiting || h.Price <= 0 {
			continue
		}
		if p.HeldFor(now) < cfg.MinHold {
			continue
		}
		profit := p.ProfitPct(h.Price)
		out = append(out, Scored{
			Holding:          h,
			ProfitPct:        profit,
			Score:            Score(p.EntryConfidence, profit, candidateConfidence, cfg),
			ExpectedProceeds: p.ValueAt(h.Price) * (1 - cfg.Haircut),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// Decide picks a position to sell for req, or returns a verdict explaining why not.
// The capital check applies even in an emergency.
func Decide(req Request, cfg Config) (Plan, bool, logger.Verdict) {
	v := logger.Verdict{Gate: "rotation", Threshold: req.Required, Measured: req.Available}
	if req.Available >= req.Required {
		v.Passed = true
		v.Reason = "free balance covers the trade"
		return Plan{}, false, v
	}

	emergency := req.Available < cfg.EmergencySOL
	if !emergency && req.NewConfidence < cfg.MinConfidence {
		v.Threshold, v.Measured = cfg.MinConfidence, req.NewConfidence
		v.Reason = "candidate confidence too low to justify rotation"
		return Plan{}, false, v
	}

	ranked := Rank(req.Holdings, req.NewConfidence*100, req.Now, cfg)
	if len(ranked) == 0 {
		v.Reason = "no position held long enough to rotate"
		return Plan{}, false, v
	}
	weakest := ranked[0]

	if !emergency {
		margin := req.NewConfidence*100 - weakest.Position.EntryConfidence
		if margin < cfg.MarginPoints {
			loser, found := deepestLoss(ranked, cfg)
			if !found || req.NewConfidence < cfg.LossMinConfidence {
				v.Threshold, v.Measured = cfg.MarginPoints, margin
				v.Reason = fmt.Sprintf("confidence margin over %s is %.1f points", weakest.Position.Symbol, margin)
				return Plan{}, false, v
			}
			weakest = loser
		}
	}

	funded := req.Available + weakest.ExpectedProceeds
	if funded < req.Required {
		v.Measured = funded
		v.Reason = fmt.Sprintf("selling %s would raise only %.4f SOL", weakest.Position.Symbol, weakest.ExpectedProceeds)
		return Plan{}, false, v
	}

	reason := fmt.Sprintf("rotate %s (score %.1f, profit %+.1f%%) into %s", weakest.Position.Symbol, weakest.Score, weakest.ProfitPct, req.Token)
	if emergency {
		reason = "emergency: " + reason
	}
	v.Passed, v.Measured, v.Reason = true, funded, reason
	return Plan{Victim: weakest, Emergency: emergency, Reason: reason}, true, v
}

// deepestLoss returns the holding with the largest loss at or below LossPct.
func deepestLoss(ranked []Scored, cfg Config) (Scored, bool) {
	var out Scored
	found := false
	for _, s := range ranked {
		if s.ProfitPct > cfg.LossPct {
			continue
		}
		if !found || s.ProfitPct < out.ProfitPct {
			out, found = s, true
		}
	}
	return out, found
}
