// Package monitor repeats probe runs on an interval and keeps the latest
// verdict for readiness checks and the admin server.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"poolprobe/internal/platform/health"
	"poolprobe/internal/platform/logging"
	"poolprobe/internal/platform/metrics"
	"poolprobe/internal/probe"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoRun is reported by Ready until the first run completes.
var ErrNoRun = errors.New("monitor: no probe run yet")

type Runner interface {
	Run(ctx context.Context) (probe.Result, error)
}

type Options struct {
	// Interval between run starts. Defaults to one minute.
	Interval time.Duration
	// Timeout bounds a single run. Defaults to 30s.
	Timeout time.Duration
	Metrics *metrics.ProbeMetrics
}

type Monitor struct {
	runner  Runner
	log     *zap.Logger
	metrics *metrics.ProbeMetrics
	limiter *rate.Limiter
	timeout time.Duration
	seq     atomic.Int64

	// busy is held for the whole of a run and by Exclusive checks, so
	// nothing else touches the driver pool between closing A and opening B.
	busy chan struct{}

	mu      sync.RWMutex
	status  Status
	lastErr error
}

// Status is a snapshot of the monitor state.
type Status struct {
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	Flips    int       `json:"verdict_flips"`
	Verdict  string    `json:"verdict,omitempty"`
	SessionA string    `json:"session_a,omitempty"`
	SessionB string    `json:"session_b,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`

	verdict probe.Verdict
	have    bool
}

func New(r Runner, log *zap.Logger, opts Options) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Monitor{
		runner:  r,
		log:     log,
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		timeout: opts.Timeout,
		busy:    make(chan struct{}, 1),
	}
}

// Serve probes until ctx is canceled, then returns nil.
func (m *Monitor) Serve(ctx context.Context) error {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_, _ = m.RunOnce(ctx)
	}
}

// RunOnce performs a single bounded run and records its outcome.
func (m *Monitor) RunOnce(ctx context.Context) (probe.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	release, err := m.acquire(runCtx)
	if err != nil {
		return probe.Result{}, err
	}
	defer release()

	runCtx = logging.With(runCtx, m.log.With(zap.Int64("seq", m.seq.Add(1))))

	res, err := m.runner.Run(runCtx)
	if err != nil && ctx.Err() != nil {
		// Stopped, not failed: keep it out of the failure count.
		m.log.Debug("run interrupted by shutdown", zap.Error(err))
		return res, err
	}
	m.metrics.Record(ctx, res, err)
	m.record(res, err)
	return res, err
}

// Exclusive wraps a check that shares the observed pool, e.g. a readiness ping,
// so it waits for any run in progress and blocks runs while it executes.
func (m *Monitor) Exclusive(check health.Check) health.Check {
	return func(ctx context.Context) error {
		release, err := m.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		return check(ctx)
	}
}

func (m *Monitor) acquire(ctx context.Context) (func(), error) {
	select {
	case m.busy <- struct{}{}:
		return func() { <-m.busy }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Monitor) record(res probe.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.status
	s.At = time.Now()
	if err != nil {
		s.Failures++
		s.Error = err.Error()
		m.lastErr = err
		m.log.Warn("probe run failed", zap.Error(err), zap.Int("failures", s.Failures))
		return
	}

	if s.have && s.verdict != res.Verdict {
		s.Flips++
		m.log.Warn("verdict changed",
			zap.Stringer("from", s.verdict),
			zap.Stringer("to", res.Verdict),
			zap.String("run_id", res.RunID),
		)
	}
	s.Runs++
	s.have = true
	s.verdict = res.Verdict
	s.Verdict = res.Verdict.String()
	s.SessionA = string(res.First)
	s.SessionB = string(res.Second)
	s.Error = ""
	m.lastErr = nil
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Ready fails until a run has succeeded, and whenever the latest run failed.
func (m *Monitor) Ready(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastErr != nil {
		return m.lastErr
	}
	if !m.status.have {
		return ErrNoRun
	}
	return nil
}

// Handler serves the current Status as JSON.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Status())
	})
}
