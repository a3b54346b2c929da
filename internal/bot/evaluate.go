// internal/bot/evaluate.go
package bot

import (
	"fmt"
	"math"
	"time"

	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
	"github.com/rovshanmuradov/solana-autotrader/internal/portfolio"
	"github.com/rovshanmuradov/solana-autotrader/internal/risk"
	"github.com/rovshanmuradov/solana-autotrader/internal/rotation"
	"github.com/rovshanmuradov/solana-autotrader/internal/sizing"
)

// DecisionKind tags the outcome of Evaluate.
type DecisionKind int

const (
	Skip DecisionKind = iota
	Buy
	Rotate
)

func (k DecisionKind) String() string {
	switch k {
	case Buy:
		return "buy"
	case Rotate:
		return "rotate"
	default:
		return "skip"
	}
}

// Candidate is a token that went through consensus and the loss screen.
type Candidate struct {
	Token     domain.TokenSnapshot
	Consensus consensus.Result
	Risk      risk.Assessment
}

// Limits are the static policy inputs of Evaluate.
type Limits struct {
	Modes     sizing.Modes
	Portfolio portfolio.Config
	Rotation  rotation.Config
	MinTrade  float64
}

// EvalInput is everything Evaluate needs for one wallet and one candidate.
type EvalInput struct {
	Candidate Candidate
	Wallet    domain.BotConfig
	Drawdown  risk.DrawdownCheck
	Portfolio portfolio.Snapshot
	Holdings  []rotation.Holding
	Strategy  *domain.Strategy
	Held      bool
	Limits    Limits
	Now       time.Time
}

// Decision is the tagged result of Evaluate.
type Decision struct {
	Kind       DecisionKind
	Params     sizing.Params
	Amount     float64 // SOL to spend, platform fee included
	Bound      string  // sizing constraint that set Amount
	StopFactor float64
	Victim     rotation.Scored
	Emergency  bool
	Verdict    logger.Verdict
}

func skip(gate string, threshold, measured float64, format string, args ...any) Decision {
	return Decision{Kind: Skip, Verdict: logger.Verdict{
		Gate: gate, Threshold: threshold, Measured: measured, Reason: fmt.Sprintf(format, args...),
	}}
}

// Evaluate decides what to do with one candidate for one wallet. It performs
// no I/O: every gate reads from in.
func Evaluate(in EvalInput) Decision {
	c := in.Candidate
	res := c.Consensus

	if in.Held {
		return skip("duplicate", 0, 0, "wallet already holds %s", c.Token.Symbol)
	}
	if !in.Drawdown.Allowed {
		return Decision{Kind: Skip, Verdict: in.Drawdown.Verdict}
	}
	if st := in.Strategy; st != nil && st.MaxTradesPerDay > 0 {
		if n := in.Wallet.TradesOn(in.Now); n >= st.MaxTradesPerDay {
			return skip("daily_limit", float64(st.MaxTradesPerDay), float64(n), "daily trade limit reached")
		}
	}

	switch {
	case res.Insufficient:
		return skip("quorum", 0, float64(res.Responders), "advisor quorum not met (%d/%d responded)", res.Responders, res.Queried)
	case res.Split:
		return skip("consensus", 0, res.Share, "no supermajority, defaulting to HOLD")
	case res.Action != domain.ActionBuy:
		return skip("consensus", 0, res.Confidence, "consensus action is %s", res.Action)
	}
	if st := in.Strategy; st != nil {
		if res.Confidence < st.MinConfidence {
			return skip("min_confidence", st.MinConfidence, res.Confidence, "confidence below strategy minimum")
		}
		if res.PotentialUpsidePct < st.MinUpsidePct {
			return skip("min_upside", st.MinUpsidePct, res.PotentialUpsidePct, "potential upside below strategy minimum")
		}
	}
	if c.Risk.Blocked {
		return Decision{Kind: Skip, Verdict: c.Risk.Verdict}
	}

	params, ok := in.Limits.Modes.Select(res.Confidence)
	if !ok {
		return skip("mode", in.Limits.Modes.MinConfidence(), res.Confidence, "confidence below the lowest trade mode")
	}

	budget := -1.0
	if in.Wallet.TotalBudget > 0 {
		budget = in.Wallet.RemainingBudget()
		if budget < in.Limits.MinTrade {
			return skip("budget", in.Limits.MinTrade, budget, "wallet budget exhausted")
		}
	}
	var strategyBudget float64
	if in.Strategy != nil {
		strategyBudget = in.Strategy.BudgetPerTrade
	}

	snap := in.Portfolio
	sizeIn := sizing.Input{
		PortfolioValue:        snap.TotalValue,
		ModePct:               params.SizePct,
		RiskFactor:            c.Risk.SizeFactor,
		Available:             snap.Available,
		ConcentrationHeadroom: snap.ConcentrationHeadroom(c.Token.Address, in.Limits.Portfolio),
		MaxTradePct:           in.Wallet.MaxTradePct,
		Budget:                budget,
		StrategyBudget:        strategyBudget,
		MinTrade:              in.Limits.MinTrade,
	}
	sized := sizing.Size(sizeIn)

	// The size the trade would have if free balance were no constraint.
	wantIn := sizeIn
	wantIn.Available = math.Inf(1)
	want := sizing.Size(wantIn)

	buy := Decision{Kind: Buy, Params: params, Amount: sized.Amount, Bound: sized.Bound, StopFactor: c.Risk.StopFactor}
	buy.Verdict = logger.Verdict{
		Gate: "sizing", Passed: true, Threshold: in.Limits.MinTrade, Measured: sized.Amount,
		Reason: fmt.Sprintf("%s %.4f SOL bound by %s", params.Mode, sized.Amount, sized.Bound),
	}

	if want.OK && want.Amount > snap.Available {
		plan, found, v := rotation.Decide(rotation.Request{
			Token:         c.Token.Address,
			NewConfidence: res.Confidence,
			Required:      want.Amount,
			Available:     snap.Available,
			Holdings:      in.Holdings,
			Now:           in.Now,
		}, in.Limits.Rotation)
		if found {
			return Decision{
				Kind: Rotate, Params: params, Amount: want.Amount, Bound: want.Bound, StopFactor: c.Risk.StopFactor,
				Victim: plan.Victim, Emergency: plan.Emergency, Verdict: v,
			}
		}
		if !sized.OK {
			return Decision{Kind: Skip, Verdict: v}
		}
	}
	if !sized.OK {
		return skip("sizing", in.Limits.MinTrade, sized.Amount, "%s", sized.Reason)
	}
	return buy
}

// applyBuy books a buy into a snapshot so later candidates in the same scan
// see the reduced balance and the new holding.
func applyBuy(s portfolio.Snapshot, token, symbol string, amount float64) portfolio.Snapshot {
	s.SOL -= amount
	s.Available = math.Max(0, s.Available-amount)
	holdings := make([]portfolio.Holding, 0, len(s.Holdings)+1)
	found := false
	for _, h := range s.Holdings {
		if h.Token == token {
			h.Value += amount
			found = true
		}
		holdings = append(holdings, h)
	}
	if !found {
		holdings = append(holdings, portfolio.Holding{Token: token, Symbol: symbol, Value: amount})
	}
	for i := range holdings {
		if s.TotalValue > 0 {
			holdings[i].Pct = holdings[i].Value / s.TotalValue * 100
		}
	}
	s.Holdings = holdings
	return s
}
