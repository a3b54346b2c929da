// internal/bot/janitor.go
package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CacheJanitor evicts expired cache entries, drops fingerprints of closed
// positions and re-enables advisors whose cool-down elapsed.
func (e *Engine) CacheJanitor(ctx context.Context) (string, error) {
	discovery := e.d.Discovery.Evict()
	analysis := e.d.Analysis.Evict()

	active, err := e.d.Store.ActivePositions(ctx)
	if err != nil {
		return "", fmt.Errorf("load positions: %w", err)
	}
	keep := make(map[string]struct{}, len(active))
	for _, p := range active {
		keep[p.ID] = struct{}{}
	}
	fingerprints := e.d.Fingerprints.Retain(keep)

	reenabled := 0
	if e.d.Providers != nil {
		reenabled = e.d.Providers.Reenable()
	}
	return fmt.Sprintf("evicted %d discovery, %d analysis, %d fingerprints; re-enabled %d advisors",
		discovery, analysis, fingerprints, reenabled), nil
}

// StaleJanitor purges closed positions and journal rows past retention.
func (e *Engine) StaleJanitor(ctx context.Context) (string, error) {
	cutoff := e.d.Clock.Now().Add(-e.cfg.StaleRecordAge)
	n, err := e.d.Store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return "", fmt.Errorf("purge: %w", err)
	}
	if n > 0 {
		e.logger.Info("Stale records purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return fmt.Sprintf("purged %d records older than %s", n, cutoff.Format("2006-01-02 15:04")), nil
}

// StrategyJob regenerates the trading strategy from recent outcomes.
func (e *Engine) StrategyJob(ctx context.Context) (string, error) {
	st, err := e.d.Strategies.Regenerate(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("strategy %s: %s/%s, min confidence %.2f, %d samples",
		st.ID, st.Sentiment, st.RiskLevel, st.MinConfidence, st.Samples), nil
}
