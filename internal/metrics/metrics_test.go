package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-autotrader/internal/consensus"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"github.com/rovshanmuradov/solana-autotrader/internal/events"
)

func TestCollector_Jobs(t *testing.T) {
	c := NewCollector()
	c.JobFinished("fast_scan", time.Second, nil)
	c.JobFinished("fast_scan", time.Second, errors.New("boom"))
	c.JobSkipped("fast_scan")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("fast_scan", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobRuns.WithLabelValues("fast_scan", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobSkipped.WithLabelValues("fast_scan")))
}

func TestCollector_Consensus(t *testing.T) {
	c := NewCollector()
	c.ConsensusDecided("entry", consensus.Result{Action: domain.ActionBuy, Confidence: 0.8})
	c.ConsensusDecided("entry", consensus.Result{Action: domain.ActionHold, Split: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.consensusDecisions.WithLabelValues("entry", string(domain.ActionBuy), "decided")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consensusDecisions.WithLabelValues("entry", string(domain.ActionHold), "split")))
}

func TestCollector_HandleEvents(t *testing.T) {
	c := NewCollector()
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, events.GateBlockedEvent{BaseEvent: events.NewBase(events.GateBlocked, now), Gate: "liquidity"}))
	require.NoError(t, c.Handle(ctx, events.PortfolioUpdatedEvent{
		BaseEvent: events.NewBase(events.PortfolioUpdated, now), Wallet: "w1", TotalValue: 3.5, Available: 1, Positions: 2, ValueUSD: 525,
	}))
	require.NoError(t, c.Handle(ctx, events.DrawdownChangedEvent{BaseEvent: events.NewBase(events.DrawdownChanged, now), Wallet: "w1", Paused: true}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.gateBlocks.WithLabelValues("liquidity")))
	assert.Equal(t, 3.5, testutil.ToFloat64(c.portfolioValue.WithLabelValues("w1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.openPositions.WithLabelValues("w1")))
	assert.Equal(t, 525.0, testutil.ToFloat64(c.portfolioUSD.WithLabelValues("w1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.paused.WithLabelValues("w1")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.JobSkipped("rebalance")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `autotrader_scheduler_job_skipped_total{job="rebalance"} 1`)
}
