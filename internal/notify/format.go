// internal/notify/format.go
package notify

import (
	"fmt"
	"strings"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
	"github.com/rovshanmuradov/solana-autotrader/internal/logger"
)

// Format renders an event as a short chat message. ok is false for events
// that are not worth a message.
func Format(ev events.Event) (string, bool) {
	switch e := ev.(type) {
	case events.PositionOpenedEvent:
		return fmt.Sprintf("🟢 BUY %s [%s]\n%.4f SOL @ %.8g\nconfidence %.0f%%\nwallet %s",
			label(e.Symbol, e.Token), e.Mode, e.SOL, e.Price, e.Confidence*100, logger.ShortAddress(e.Wallet)), true
	case events.PositionReboughtEvent:
		return fmt.Sprintf("🔁 REBUY %s\n+%.4f SOL, avg entry %.8g (#%d)\nwallet %s",
			label(e.Symbol, e.Token), e.Added, e.EntryPrice, e.RebuyCount, logger.ShortAddress(e.Wallet)), true
	case events.PositionClosedEvent:
		emoji := "🔴"
		if e.Outcome == string(domain.OutcomeWin) {
			emoji = "💰"
		}
		return fmt.Sprintf("%s SELL %s (%s)\n%+.2f%%  %.4f → %.4f SOL\nwallet %s",
			emoji, label(e.Symbol, e.Token), e.Reason, e.ProfitPct, e.SolIn, e.SolOut, logger.ShortAddress(e.Wallet)), true
	case events.PositionFailedEvent:
		msg := fmt.Sprintf("⚠️ %s written off (%s)\nwallet %s", label(e.Symbol, e.Token), e.Reason, logger.ShortAddress(e.Wallet))
		if e.Error != "" {
			msg += "\n" + e.Error
		}
		return msg, true
	case events.DrawdownChangedEvent:
		if e.Paused {
			return fmt.Sprintf("⛔️ Trading paused: drawdown %.1f%% from peak %.4f SOL\nwallet %s",
				e.DrawdownPct, e.PeakValue, logger.ShortAddress(e.Wallet)), true
		}
		return fmt.Sprintf("✅ Trading resumed (drawdown %.1f%%)\nwallet %s", e.DrawdownPct, logger.ShortAddress(e.Wallet)), true
	case events.StrategyUpdatedEvent:
		return fmt.Sprintf("🧭 Strategy updated: risk %s, sentiment %s, min confidence %.0f%%, win rate %.0f%%",
			e.RiskLevel, e.Sentiment, e.MinConfidence*100, e.WinRate*100), true
	case events.ProviderStatusEvent:
		if !e.Disabled {
			return "", false
		}
		return fmt.Sprintf("📵 Advisor %s disabled: %s", e.Provider, e.Reason), true
	}
	return "", false
}

// FormatPositions renders the /positions reply.
func FormatPositions(positions []*domain.Position) string {
	if len(positions) == 0 {
		return "📭 No open positions"
	}
	var b strings.Builder
	b.WriteString("📊 Open positions:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s [%s] %.4f SOL @ %.8g last %.8g (%+.2f%%) %s\n",
			label(p.Symbol, p.Token), p.Mode, p.SolCommitted, p.EntryPrice, p.LastPrice,
			p.ProfitPct(p.LastPrice), logger.ShortAddress(p.Wallet))
	}
	return b.String()
}

func label(symbol, token string) string {
	if symbol != "" {
		return symbol
	}
	return logger.ShortAddress(token)
}
