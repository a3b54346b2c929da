// internal/sizing/size.go
package sizing

import (
	"fmt"
	"math"
)

// Input carries every bound a trade size must respect. Amounts are SOL.
type Input struct {
	PortfolioValue        float64
	ModePct               float64 // percent of portfolio from the mode
	RiskFactor            float64 // loss screen adjustment, 1 when unrestricted
	Available             float64 // deployable free balance
	ConcentrationHeadroom float64
	MaxTradePct           float64 // per-wallet cap in percent, 0 disables
	Budget                float64 // remaining wallet budget, negative disables
	StrategyBudget        float64 // strategy budget per trade, 0 disables
	MinTrade              float64 // network minimum
}

// Result is a sized trade.
type Result struct {
	Amount float64
	Bound  string // which constraint set the final amount
	OK     bool
	Reason string
}

// Size computes min(portfolio x mode pct, available, concentration headroom)
// under the optional wallet and strategy caps, raised to the network minimum
// only when that stays within available balance and concentration headroom.
func Size(in Input) Result {
	factor := in.RiskFactor
	if factor <= 0 {
		factor = 1
	}
	amount := in.PortfolioValue * in.ModePct / 100 * factor
	bound := "mode"

	limit := func(name string, v float64) {
		if v < amount {
			amount, bound = v, name
		}
	}
	limit("available", in.Available)
	limit("concentration", in.ConcentrationHeadroom)
	if in.MaxTradePct > 0 {
		limit("wallet_cap", in.PortfolioValue*in.MaxTradePct/100)
	}
	if in.Budget >= 0 {
		limit("budget", in.Budget)
	}
	if in.StrategyBudget > 0 {
		limit("strategy_budget", in.StrategyBudget)
	}
	amount = math.Max(0, amount)

	if amount >= in.MinTrade && amount > 0 {
		return Result{Amount: amount, Bound: bound, OK: true}
	}
	ceiling := math.Min(in.Available, in.ConcentrationHeadroom)
	if in.Budget >= 0 {
		ceiling = math.Min(ceiling, in.Budget)
	}
	if in.MinTrade > 0 && in.MinTrade <= ceiling {
		return Result{Amount: in.MinTrade, Bound: "network_minimum", OK: true}
	}
	return Result{
		Amount: 0,
		Bound:  bound,
		Reason: fmt.Sprintf("size %.4f SOL (bound by %s) below network minimum %.4f SOL", amount, bound, in.MinTrade),
	}
}
