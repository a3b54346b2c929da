// internal/bot/jobs.go
package bot

import (
	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
)

// Job names as they appear in logs, metrics and the status view.
const (
	JobFastScan     = "fast_scan"
	JobDeepScan     = "deep_scan"
	JobMonitor      = "monitor"
	JobRebalance    = "rebalance"
	JobCacheJanitor = "cache_janitor"
	JobStaleJanitor = "stale_janitor"
	JobStrategy     = "strategy"
)

// Jobs returns the engine's periodic tasks.
func (e *Engine) Jobs() []scheduler.Job {
	iv := e.cfg.Intervals
	return []scheduler.Job{
		{Name: JobFastScan, Interval: iv.FastScan, Run: e.FastScan, RunAtStart: true},
		{Name: JobDeepScan, Interval: iv.DeepScan, Run: e.DeepScan},
		{Name: JobMonitor, Interval: iv.Monitor, Run: e.Monitor, RunAtStart: true},
		{Name: JobRebalance, Interval: iv.Rebalance, Run: e.Rebalance},
		{Name: JobCacheJanitor, Interval: iv.CacheJanitor, Run: e.CacheJanitor},
		{Name: JobStaleJanitor, Interval: iv.StaleJanitor, Run: e.StaleJanitor},
		{Name: JobStrategy, Interval: iv.Strategy, Run: e.StrategyJob},
	}
}

// Register adds every job to s.
func (e *Engine) Register(s *scheduler.Scheduler) error {
	for _, job := range e.Jobs() {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
