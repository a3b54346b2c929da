package health

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/scheduler"
)

type staticJobs []scheduler.JobStatus

func (s staticJobs) Statuses() []scheduler.JobStatus { return s }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMux_Readiness(t *testing.T) {
	state := NewState(clock.NewMock(), nil)
	mux := NewMux(state, nil)

	code, _ := get(t, mux, "/livez")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	state.SetReady(true)
	code, body := get(t, mux, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestMux_HealthReport(t *testing.T) {
	clk := clock.NewMock()
	jobs := staticJobs{{
		Name: "monitor", Status: scheduler.StatusIdle, LastResult: "checked 3 positions",
		LastStarted: clk.Now().Add(time.Minute), Runs: 4, Skipped: 1,
	}}
	state := NewState(clk, jobs)
	state.SetReady(true)
	clk.Add(90 * time.Second)

	code, body := get(t, NewMux(state, nil), "/healthz")
	require.Equal(t, http.StatusOK, code)

	var rep report
	require.NoError(t, sonic.UnmarshalString(body, &rep))
	assert.True(t, rep.Ready)
	assert.Equal(t, int64(90), rep.UptimeSec)
	require.Len(t, rep.Jobs, 1)
	assert.Equal(t, "monitor", rep.Jobs[0].Name)
	assert.Equal(t, "idle", rep.Jobs[0].Status)
	assert.Equal(t, uint64(4), rep.Jobs[0].Runs)
	assert.Equal(t, uint64(1), rep.Jobs[0].Skipped)
}

func TestMux_HealthDetails(t *testing.T) {
	state := NewState(clock.NewMock(), nil)
	state.AddDetail("events", func() any { return map[string]int{"dropped": 2} })

	_, body := get(t, NewMux(state, nil), "/healthz")
	var rep struct {
		Details map[string]map[string]int `json:"details"`
	}
	require.NoError(t, sonic.UnmarshalString(body, &rep))
	assert.Equal(t, 2, rep.Details["events"]["dropped"])
}

func TestMux_ExtraHandlers(t *testing.T) {
	extra := map[string]http.Handler{
		"/metrics": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	}
	code, body := get(t, NewMux(NewState(nil, nil), extra), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "metrics", body)
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewMux(NewState(nil, nil), nil), zap.NewNop())
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}
