// internal/risk/loss.go
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"go.uber.org/zap"
)

// LossConfig holds loss-probability thresholds and the resulting adjustments.
type LossConfig struct {
	ExtremePct          float64
	HighPct             float64
	MajoritySizeFactor  float64
	StrongSizeFactor    float64
	StopTighteningRatio float64
}

// DefaultLossConfig returns 95/70 thresholds with 50%/25% size cuts.
func DefaultLossConfig() LossConfig {
	return LossConfig{ExtremePct: 95, HighPct: 70, MajoritySizeFactor: 0.5, StrongSizeFactor: 0.25, StopTighteningRatio: 0.6}
}

// Assessment is the loss screen outcome applied to a sized trade.
type Assessment struct {
	Blocked    bool
	SizeFactor float64 // multiply the computed size
	StopFactor float64 // multiply the stop-loss distance
	Source     string  // "panel" or "rules"
	Estimates  []float64
	Flags      []string
	Verdict    logger.Verdict
}

// Evaluate applies the panel rules to loss-probability estimates (0..100).
//   - every estimate above ExtremePct blocks;
//   - a majority above HighPct shrinks size and tightens the stop.
func Evaluate(estimates []float64, cfg LossConfig) Assessment {
	a := Assessment{SizeFactor: 1, StopFactor: 1, Source: "panel", Estimates: estimates}
	n := len(estimates)
	if n == 0 {
		a.Verdict = logger.Verdict{Gate: "loss_screen", Passed: true, Reason: "no estimates"}
		return a
	}

	extreme, high, worst := 0, 0, 0.0
	for _, p := range estimates {
		if p > cfg.ExtremePct {
			extreme++
		}
		if p > cfg.HighPct {
			high++
		}
		if p > worst {
			worst = p
		}
	}

	switch {
	case extreme == n:
		a.Blocked = true
		a.SizeFactor = 0
		a.Verdict = logger.Verdict{
			Gate: "loss_screen", Threshold: cfg.ExtremePct, Measured: minOf(estimates),
			Reason: fmt.Sprintf("all %d advisors estimate loss probability above %.0f%%", n, cfg.ExtremePct),
		}
	case high*2 > n:
		a.SizeFactor = cfg.MajoritySizeFactor
		if high*3 >= n*2 {
			a.SizeFactor = cfg.StrongSizeFactor
		}
		a.StopFactor = cfg.StopTighteningRatio
		a.Verdict = logger.Verdict{
			Gate: "loss_screen", Passed: true, Threshold: cfg.HighPct, Measured: worst,
			Reason: fmt.Sprintf("%d of %d advisors above %.0f%%, size x%.2f and stop tightened", high, n, cfg.HighPct, a.SizeFactor),
		}
	default:
		a.Verdict = logger.Verdict{
			Gate: "loss_screen", Passed: true, Threshold: cfg.HighPct, Measured: worst,
			Reason: fmt.Sprintf("%d of %d advisors above %.0f%%", high, n, cfg.HighPct),
		}
	}
	return a
}

// EvaluateRules applies the same thresholds to the summed rule penalty.
func EvaluateRules(score float64, flags []string, cfg LossConfig) Assessment {
	a := Assessment{SizeFactor: 1, StopFactor: 1, Source: "rules", Flags: flags}
	reason := "no red flags"
	if len(flags) > 0 {
		reason = strings.Join(flags, ", ")
	}
	a.Verdict = logger.Verdict{Gate: "loss_rules", Passed: true, Threshold: cfg.HighPct, Measured: score, Reason: reason}
	switch {
	case score > cfg.ExtremePct:
		a.Blocked = true
		a.SizeFactor = 0
		a.Verdict.Passed = false
		a.Verdict.Threshold = cfg.ExtremePct
	case score > cfg.HighPct:
		a.SizeFactor = cfg.MajoritySizeFactor
		a.StopFactor = cfg.StopTighteningRatio
	}
	return a
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// LossScreen asks the risk panel for loss probabilities and falls back to
// deterministic rules when nobody answers.
type LossScreen struct {
	panel  *advisor.Registry
	cfg    LossConfig
	rules  RuleConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewLossScreen creates a loss screen. panel may be nil to always use rules.
func NewLossScreen(panel *advisor.Registry, cfg LossConfig, rules RuleConfig, now func() time.Time, logger *zap.Logger) *LossScreen {
	if now == nil {
		now = time.Now
	}
	return &LossScreen{panel: panel, cfg: cfg, rules: rules, now: now, logger: logger.Named("loss_screen")}
}

// Assess screens one candidate token.
func (s *LossScreen) Assess(ctx context.Context, token domain.TokenSnapshot) Assessment {
	var estimates []float64
	if s.panel != nil {
		for _, resp := range s.panel.Poll(ctx, advisor.Request{Kind: advisor.KindRisk, Token: token}) {
			if resp.Err == nil {
				estimates = append(estimates, resp.Opinion.LossProbability)
			}
		}
	}

	var a Assessment
	if len(estimates) == 0 {
		score, flags := RuleScore(token, s.now(), s.rules)
		a = EvaluateRules(score, flags, s.cfg)
		s.logger.Info("Risk panel silent, using rule-based score",
			zap.String("token", token.Address),
			zap.Float64("score", score),
			zap.Strings("flags", flags))
	} else {
		a = Evaluate(estimates, s.cfg)
	}
	logger.Decision(s.logger, a.Verdict, zap.String("token", token.Address), zap.String("source", a.Source))
	return a
}
