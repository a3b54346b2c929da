// internal/health/server.go
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

type jobView struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	LastResult string `json:"last_result,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	LastRun    int64  `json:"last_run_unix,omitempty"`
	Runs       uint64 `json:"runs"`
	Skipped    uint64 `json:"skipped"`
}

type report struct {
	Ready     bool           `json:"ready"`
	UptimeSec int64          `json:"uptime_sec"`
	Jobs      []jobView      `json:"jobs,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewMux serves /livez, /readyz and /healthz. Extra handlers are mounted
// alongside, e.g. /metrics and /ws.
func NewMux(state *State, extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rep := report{Ready: state.Ready(), UptimeSec: int64(state.Uptime().Seconds())}
		if state.jobs != nil {
			for _, js := range state.jobs.Statuses() {
				v := jobView{
					Name: js.Name, Status: string(js.Status), LastResult: js.LastResult, LastError: js.LastError,
					Runs: js.Runs, Skipped: js.Skipped,
				}
				if !js.LastStarted.IsZero() {
					v.LastRun = js.LastStarted.Unix()
				}
				rep.Jobs = append(rep.Jobs, v)
			}
		}
		rep.Details = state.snapshotDetails()
		body, err := sonic.Marshal(rep)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// Server is an HTTP listener with explicit start and stop, shaped for
// lifecycle hooks.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, h http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// Start binds the listener synchronously so address errors surface at
// startup, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
