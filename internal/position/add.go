// internal/position/add.go
package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// AddConfig bounds rebuys of a losing position.
type AddConfig struct {
	RebuyDipPct        float64 // drop from entry required, percent
	RebuyCap           int
	AccumulateConf     float64 // consensus confidence needed to add while in loss
	AccumulateMaxStake float64 // SolCommitted ceiling as a multiple of OriginalStake
	AccumulateMaxLoss  float64 // deepest tolerated loss, negative percent
}

func DefaultAddConfig() AddConfig {
	return AddConfig{
		RebuyDipPct:        10,
		RebuyCap:           2,
		AccumulateConf:     0.85,
		AccumulateMaxStake: 2,
		AccumulateMaxLoss:  -25,
	}
}

// AddCheck is the answer to "may this position be averaged down now".
type AddCheck struct {
	Allowed bool
	MaxAdd  float64 // SOL headroom under the stake ceiling
	Verdict logger.Verdict
}

// CanAdd applies the rebuy and accumulation rules. A rebuy always happens
// in loss, so both rule sets apply.
func CanAdd(p *domain.Position, price, confidence float64, cfg AddConfig) AddCheck {
	profit := p.ProfitPct(price)
	block := func(gate string, threshold, measured float64, reason string) AddCheck {
		return AddCheck{Verdict: logger.Verdict{Gate: gate, Threshold: threshold, Measured: measured, Reason: reason}}
	}

	if p.RebuyCount >= cfg.RebuyCap {
		return block("rebuy_cap", float64(cfg.RebuyCap), float64(p.RebuyCount), "rebuy cap reached")
	}
	if dip := -profit; dip < cfg.RebuyDipPct {
		return block("rebuy_dip", cfg.RebuyDipPct, dip, "price has not dropped enough from entry")
	}
	if conf := confidence * 100; conf <= p.LastBuyConfidence {
		return block("rebuy_confidence", p.LastBuyConfidence, conf, "confidence not above previous buy")
	}
	if confidence < cfg.AccumulateConf {
		return block("accumulate_confidence", cfg.AccumulateConf, confidence, "conviction too low to add to a loser")
	}
	if profit < cfg.AccumulateMaxLoss {
		return block("accumulate_drawdown", cfg.AccumulateMaxLoss, profit, "position loss too deep to add")
	}
	headroom := p.OriginalStake*cfg.AccumulateMaxStake - p.SolCommitted
	if headroom <= 0 {
		return block("accumulate_stake", p.OriginalStake*cfg.AccumulateMaxStake, p.SolCommitted, "stake ceiling reached")
	}
	return AddCheck{
		Allowed: true,
		MaxAdd:  headroom,
		Verdict: logger.Verdict{
			Gate: "rebuy", Passed: true, Threshold: cfg.RebuyDipPct, Measured: -profit,
			Reason: fmt.Sprintf("rebuy %d of %d", p.RebuyCount+1, cfg.RebuyCap),
		},
	}
}

// Merge folds an executed add into the position with a quantity-weighted
// average entry price. The peak is re-based to the higher of the fill and
// mark prices so it is measured against the new entry; an armed floor is
// never lowered.
func Merge(p *domain.Position, solIn, fillPrice, qty, confidence, mark float64) {
	oldQty := decimal.NewFromFloat(p.Quantity)
	addQty := decimal.NewFromFloat(qty)
	total := oldQty.Add(addQty)
	if total.IsPositive() {
		cost := oldQty.Mul(decimal.NewFromFloat(p.EntryPrice)).Add(addQty.Mul(decimal.NewFromFloat(fillPrice)))
		p.EntryPrice = cost.Div(total).InexactFloat64()
	}
	p.Quantity = total.InexactFloat64()
	p.PeakPrice = max(fillPrice, mark)
	p.PeakProfitPct = p.ProfitPct(p.PeakPrice)
	p.SolCommitted = decimal.NewFromFloat(p.SolCommitted).Add(decimal.NewFromFloat(solIn)).InexactFloat64()
	p.RebuyCount++
	p.LastBuyConfidence = confidence * 100
	p.LowConfidenceCount = 0
	p.State = domain.StateRebought
}
