// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

var (
	ErrJobExists  = errors.New("job already registered")
	ErrJobUnknown = errors.New("job not registered")
	ErrStopped    = errors.New("scheduler stopped")
)

// Status is the observable state of a job.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// JobFunc performs one bounded unit of work and returns a short summary.
type JobFunc func(ctx context.Context) (string, error)

// Job is a named periodic task.
type Job struct {
	Name       string
	Interval   time.Duration
	Run        JobFunc
	RunAtStart bool
}

// JobStatus is a snapshot of one job for observability.
type JobStatus struct {
	Name         string
	Interval     time.Duration
	Status       Status
	LastResult   string
	LastError    string
	LastStarted  time.Time
	LastDuration time.Duration
	Runs         uint64
	Skipped      uint64
	Failures     uint64
}

// Recorder receives run outcomes, e.g. for metrics.
type Recorder interface {
	JobFinished(name string, d time.Duration, err error)
	JobSkipped(name string)
}

type handle struct {
	job     Job
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs independent periodic jobs, each on its own ticker.
// A tick that arrives while the previous run is still in flight is skipped.
type Scheduler struct {
	clock    clock.Clock
	logger   *zap.Logger
	recorder Recorder

	mu     sync.Mutex
	jobs   map[string]*handle
	ctx    context.Context
	cancel context.CancelFunc
	// runs get runCtx, detached from ctx: stopping the tickers leaves
	// in-flight work alone until Shutdown's deadline passes.
	runCtx  context.Context
	abort   context.CancelFunc
	started bool
	stopped bool
	runs    sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRecorder attaches a run recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// New creates a scheduler. Jobs are registered before Start.
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.New(),
		logger: logger.Named("scheduler"),
		jobs:   make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Jobs registered after Start begin ticking immediately.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("register job: name and run func are required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("register job %q: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	h := &handle{
		job:  job,
		done: make(chan struct{}),
		status: JobStatus{
			Name:     job.Name,
			Interval: job.Interval,
			Status:   StatusIdle,
		},
	}
	s.jobs[job.Name] = h
	if s.started {
		s.launch(h)
	}
	s.logger.Debug("Job registered",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval))
	return nil
}

// Start begins ticking every registered job. Jobs marked RunAtStart run once immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.runCtx, s.abort = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	for _, h := range s.jobs {
		s.launch(h)
	}
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(h *handle) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	h.cancel = cancel
	runCtx := s.runCtx
	ticker := s.clock.Ticker(h.job.Interval)

	if h.job.RunAtStart {
		s.trigger(runCtx, h)
	}

	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				s.trigger(runCtx, h)
			}
		}
	}()
}

// trigger starts one run unless the previous one is still going.
func (s *Scheduler) trigger(ctx context.Context, h *handle) bool {
	if !h.running.CompareAndSwap(false, true) {
		h.mu.Lock()
		h.status.Skipped++
		h.mu.Unlock()
		s.logger.Warn("Job still running, tick skipped", zap.String("job", h.job.Name))
		if s.recorder != nil {
			s.recorder.JobSkipped(h.job.Name)
		}
		return false
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer h.running.Store(false)
		s.execute(ctx, h)
	}()
	return true
}

func (s *Scheduler) execute(ctx context.Context, h *handle) {
	start := s.clock.Now()
	h.mu.Lock()
	h.status.Status = StatusRunning
	h.status.LastStarted = start
	h.mu.Unlock()

	summary, err := safeRun(ctx, h.job.Run)
	elapsed := s.clock.Now().Sub(start)

	h.mu.Lock()
	h.status.Runs++
	h.status.LastDuration = elapsed
	h.status.LastResult = summary
	if err != nil {
		h.status.Status = StatusError
		h.status.LastError = err.Error()
		h.status.Failures++
	} else {
		h.status.Status = StatusIdle
		h.status.LastError = ""
	}
	h.mu.Unlock()

	if s.recorder != nil {
		s.recorder.JobFinished(h.job.Name, elapsed, err)
	}
	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", h.job.Name),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return
	}
	s.logger.Debug("Job completed",
		zap.String("job", h.job.Name),
		zap.Duration("duration", elapsed),
		zap.String("result", summary))
}

func safeRun(ctx context.Context, fn JobFunc) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// RunNow triggers a registered job outside its cadence. It reports false when
// the job was already running and the trigger was skipped.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.Lock()
	h, ok := s.jobs[name]
	started := s.started && !s.stopped
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobUnknown, name)
	}
	if !started {
		return false, ErrStopped
	}
	return s.trigger(ctx, h), nil
}

// Stop removes a single job. Future ticks stop; an in-flight run is left to finish.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	h, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobUnknown, name)
	}
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	s.logger.Info("Job stopped", zap.String("job", name))
	return nil
}

// Shutdown stops all tickers and waits for in-flight runs to finish. Runs are
// cancelled only once ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	handles := make([]*handle, 0, len(s.jobs))
	for _, h := range s.jobs {
		handles = append(handles, h)
	}
	started := s.started
	s.mu.Unlock()

	s.logger.Info("Shutting down scheduler", zap.Int("jobs", len(handles)))
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.done
		}
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.abort()
		s.logger.Info("Scheduler shutdown complete")
		return nil
	case <-ctx.Done():
		s.abort()
		s.logger.Warn("Scheduler shutdown timeout, cancelling in-flight runs")
		return ctx.Err()
	}
}

// Status returns the snapshot of one job.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.Lock()
	h, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, true
}

// Statuses returns all job snapshots sorted by name.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.jobs))
	for _, h := range s.jobs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, h.status)
		h.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
