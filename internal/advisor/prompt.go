// internal/advisor/prompt.go
package advisor

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

const systemPrompt = `You are a disciplined Solana token trading analyst. ` +
	`Reply with a single JSON object and nothing else.`

var promptFuncs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%+.2f%%", v) },
	"usd": func(v float64) string { return fmt.Sprintf("$%.0f", v) },
	"age": func(d time.Duration) string {
		if d <= 0 {
			return "unknown"
		}
		return d.Round(time.Minute).String()
	},
}

var prompts = template.Must(template.New("prompts").Funcs(promptFuncs).Parse(`
{{define "market"}}Token {{.Token.Symbol}} ({{.Token.Address}}) on {{.Token.DexID}}
Price: {{printf "%.10g" .Token.PriceNative}} SOL ({{printf "%.8g" .Token.PriceUSD}} USD)
Change: 5m {{pct .Token.Change5m}}, 1h {{pct .Token.Change1h}}, 24h {{pct .Token.Change24h}}
Liquidity: {{usd .Token.LiquidityUSD}}, volume 24h: {{usd .Token.Volume24h}}, volume 1h: {{usd .Token.Volume1h}}
Transactions 1h: {{.Token.Buys1h}} buys / {{.Token.Sells1h}} sells; 24h: {{.Token.Buys24h}} buys / {{.Token.Sells24h}} sells
Pair age: {{age .Age}}, organic score: {{printf "%.0f" .Token.OrganicScore}}/100, quality score: {{printf "%.0f" .Token.QualityScore}}/100
{{end}}

{{define "entry"}}{{template "market" .}}
{{with .Strategy}}Current strategy: risk {{.RiskLevel}}, sentiment {{.Sentiment}}, minimum upside {{printf "%.0f" .MinUpsidePct}}%.
{{end}}Should we open a new position now?
Respond as {"action":"BUY|SELL|HOLD","confidence":0..1,"reasoning":"...","potential_upside_pct":number,"risk_level":"low|medium|high"}
{{end}}

{{define "position"}}{{template "market" .}}
We hold this token in {{.Position.Mode}} mode. Entry {{printf "%.10g" .Position.EntryPrice}} SOL, now {{printf "%.10g" .CurrentPrice}} SOL ({{pct .Profit}}).
Peak profit {{pct .Position.PeakProfitPct}}, held for {{age .Held}}, rebuys {{.Position.RebuyCount}}.
Should we keep holding, add, or sell?
Respond as {"action":"BUY|SELL|HOLD","confidence":0..1,"reasoning":"...","potential_upside_pct":number,"risk_level":"low|medium|high"}
{{end}}

{{define "risk"}}{{template "market" .}}
Estimate the probability (0-100) that buying this token results in a severe loss: rug pull, honeypot, liquidity removal or a dump.
Respond as {"loss_probability":0..100,"reasoning":"...","risk_level":"low|medium|high"}
{{end}}
`))

type promptData struct {
	Request
	Age    time.Duration
	Held   time.Duration
	Profit float64
}

// BuildPrompt renders the user prompt for a request.
func BuildPrompt(req Request, now time.Time) (string, error) {
	data := promptData{Request: req, Age: req.Token.Age(now)}
	name := string(req.Kind)
	switch req.Kind {
	case KindEntry, KindRisk:
	case KindPosition:
		if req.Position == nil {
			return "", fmt.Errorf("position prompt without position")
		}
		data.Held = req.Position.HeldFor(now)
		data.Profit = req.Position.ProfitPct(req.CurrentPrice)
	default:
		return "", fmt.Errorf("unknown request kind %q", req.Kind)
	}

	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
