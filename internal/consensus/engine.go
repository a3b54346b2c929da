// internal/consensus/engine.go
package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rovshanmuradov/solana-autotrader/internal/advisor"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"go.uber.org/zap"
)

// Config holds the voting thresholds.
type Config struct {
	Quorum           int
	Supermajority    float64
	ReasoningSources int
}

// DefaultConfig returns quorum 3 and a 64% supermajority.
func DefaultConfig() Config {
	return Config{Quorum: 3, Supermajority: 0.64, ReasoningSources: 3}
}

// Result is the aggregated decision of a panel.
type Result struct {
	Action             domain.Action
	Confidence         float64 // 0..1
	Share              float64 // leading action's share of total weight, also on a split
	Reasoning          string
	PotentialUpsidePct float64
	RiskLevel          string
	Votes              []domain.Vote
	Queried            int
	Responders         int
	// Insufficient marks a fail-closed HOLD caused by a missed quorum.
	Insufficient bool
	// Split marks a HOLD caused by no action reaching the supermajority.
	Split bool
}

// Recorder observes consensus outcomes.
type Recorder interface {
	ConsensusDecided(kind string, r Result)
}

// Engine polls the advisor registry and tallies weighted votes.
type Engine struct {
	registry *advisor.Registry
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

// NewEngine creates a consensus engine over a registry.
func NewEngine(registry *advisor.Registry, cfg Config, logger *zap.Logger, recorder Recorder) *Engine {
	if cfg.Quorum < 1 {
		cfg.Quorum = 1
	}
	if cfg.ReasoningSources <= 0 {
		cfg.ReasoningSources = 3
	}
	return &Engine{registry: registry, cfg: cfg, logger: logger.Named("consensus"), recorder: recorder}
}

// Decide asks every eligible advisor and returns the panel decision. A missed
// quorum is not an error: it yields HOLD with zero confidence.
func (e *Engine) Decide(ctx context.Context, req advisor.Request) Result {
	responses := e.registry.Poll(ctx, req)

	votes := make([]domain.Vote, 0, len(responses))
	for _, resp := range responses {
		if resp.Err != nil {
			continue
		}
		votes = append(votes, domain.Vote{
			Provider:           resp.Provider.Name,
			Action:             resp.Opinion.Action,
			Confidence:         resp.Opinion.Confidence,
			Reasoning:          resp.Opinion.Reasoning,
			PotentialUpsidePct: resp.Opinion.PotentialUpsidePct,
			RiskLevel:          resp.Opinion.RiskLevel,
			Weight:             resp.Provider.Weight,
		})
	}

	result := Tally(votes, e.cfg)
	result.Queried = len(responses)

	fields := []zap.Field{
		zap.String("kind", string(req.Kind)),
		zap.String("token", req.Token.Address),
		zap.Int("queried", result.Queried),
		zap.Int("responders", result.Responders),
		zap.String("action", string(result.Action)),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("share", result.Share),
	}
	switch {
	case result.Insufficient:
		e.logger.Warn("Consensus quorum not met, failing closed to HOLD",
			append(fields, zap.Int("quorum", e.cfg.Quorum))...)
	case result.Split:
		e.logger.Info("Consensus split below supermajority, defaulting to HOLD",
			append(fields, zap.Float64("supermajority", e.cfg.Supermajority))...)
	default:
		e.logger.Debug("Consensus reached", fields...)
	}
	if e.recorder != nil {
		e.recorder.ConsensusDecided(string(req.Kind), result)
	}
	return result
}

// Tally aggregates votes. It is pure and holds every voting rule.
func Tally(votes []domain.Vote, cfg Config) Result {
	res := Result{Action: domain.ActionHold, Votes: votes, Responders: len(votes)}
	if len(votes) < cfg.Quorum {
		res.Insufficient = true
		return res
	}

	weights := make(map[domain.Action]float64, 3)
	var total float64
	for _, v := range votes {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		weights[v.Action] += w
		total += w
	}
	if total == 0 {
		res.Insufficient = true
		return res
	}

	winner, best := domain.ActionHold, -1.0
	for _, a := range []domain.Action{domain.ActionBuy, domain.ActionSell, domain.ActionHold} {
		if weights[a] > best {
			winner, best = a, weights[a]
		}
	}
	share := best / total
	res.Share = share
	const eps = 1e-9
	if share+eps < cfg.Supermajority {
		res.Split = true
		return res
	}

	res.Action = winner

	var confSum, upsideSum, wSum float64
	var contributors []domain.Vote
	riskVotes := make(map[string]float64)
	for _, v := range votes {
		if v.Action != winner {
			continue
		}
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		confSum += w * v.Confidence
		upsideSum += w * v.PotentialUpsidePct
		wSum += w
		if v.RiskLevel != "" {
			riskVotes[v.RiskLevel] += w
		}
		contributors = append(contributors, v)
	}
	res.Confidence = confSum / wSum
	res.PotentialUpsidePct = upsideSum / wSum
	res.RiskLevel = heaviest(riskVotes)
	res.Reasoning = summarize(contributors, cfg.ReasoningSources)
	return res
}

func heaviest(m map[string]float64) string {
	var (
		best string
		w    float64
	)
	for k, v := range m {
		if v > w || (v == w && k > best) {
			best, w = k, v
		}
	}
	return best
}

// summarize joins the rationale of the strongest contributors.
func summarize(votes []domain.Vote, n int) string {
	sorted := make([]domain.Vote, len(votes))
	copy(sorted, votes)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := sorted[i].Weight*sorted[i].Confidence, sorted[j].Weight*sorted[j].Confidence
		if wi != wj {
			return wi > wj
		}
		return sorted[i].Provider < sorted[j].Provider
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	parts := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if v.Reasoning == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Provider, v.Reasoning))
	}
	return strings.Join(parts, " | ")
}
