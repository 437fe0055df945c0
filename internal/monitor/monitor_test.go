package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"poolprobe/internal/db"
	"poolprobe/internal/platform/config"
	"poolprobe/internal/platform/health"
	"poolprobe/internal/probe"

	"go.uber.org/zap"
)

type scriptedRunner struct {
	mu    sync.Mutex
	steps []func() (probe.Result, error)
	calls int
}

func (s *scriptedRunner) Run(ctx context.Context) (probe.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]()
}

func (s *scriptedRunner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func verdict(v probe.Verdict) func() (probe.Result, error) {
	return func() (probe.Result, error) {
		return probe.Result{Verdict: v, First: "1", Second: "1"}, nil
	}
}

func fail(err error) func() (probe.Result, error) {
	return func() (probe.Result, error) { return probe.Result{}, err }
}

func TestReady_BeforeFirstRun(t *testing.T) {
	m := New(&scriptedRunner{steps: []func() (probe.Result, error){verdict(probe.Pooled)}}, zap.NewNop(), Options{})
	if err := m.Ready(context.Background()); !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected ErrNoRun, got %v", err)
	}
}

func TestRunOnce_TracksVerdictAndFlips(t *testing.T) {
	boom := &probe.ConnectionError{Op: "connect", Handle: "A", Err: errors.New("refused")}
	r := &scriptedRunner{steps: []func() (probe.Result, error){
		verdict(probe.Pooled),
		verdict(probe.NotPooled),
		fail(boom),
	}}
	m := New(r, zap.NewNop(), Options{})
	ctx := context.Background()

	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if err := m.Ready(ctx); err != nil {
		t.Fatalf("expected ready after a run, got %v", err)
	}
	if st := m.Status(); st.Verdict != "Pooled" || st.Runs != 1 {
		t.Fatalf("unexpected status %+v", st)
	}

	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}
	if st := m.Status(); st.Flips != 1 || st.Verdict != "Not Pooled" {
		t.Fatalf("expected one flip to Not Pooled, got %+v", st)
	}

	if _, err := m.RunOnce(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected run error, got %v", err)
	}
	if err := m.Ready(ctx); err == nil {
		t.Fatalf("expected not ready after a failed run")
	}
	if st := m.Status(); st.Failures != 1 || st.Verdict != "Not Pooled" {
		t.Fatalf("failure must keep last verdict, got %+v", st)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	r := &scriptedRunner{steps: []func() (probe.Result, error){verdict(probe.Pooled)}}
	m := New(r, zap.NewNop(), Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", r.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestHandler_JSON(t *testing.T) {
	m := New(&scriptedRunner{steps: []func() (probe.Result, error){verdict(probe.Pooled)}}, zap.NewNop(), Options{})
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce err=%v", err)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/verdict", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if st.Verdict != "Pooled" || st.Runs != 1 {
		t.Fatalf("unexpected body %+v", st)
	}
}

type blockingRunner struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(context.Context) (probe.Result, error) {
	close(b.entered)
	<-b.release
	return probe.Result{Verdict: probe.Pooled, First: "1", Second: "1"}, nil
}

func TestExclusive_WaitsForRun(t *testing.T) {
	r := &blockingRunner{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(r, zap.NewNop(), Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.RunOnce(context.Background())
	}()
	<-r.entered

	called := false
	check := m.Exclusive(func(context.Context) error { called = true; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := check(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected check to wait out the run, err=%v", err)
	}
	if called {
		t.Fatalf("check ran while a run held the pool")
	}

	close(r.release)
	<-done
	if err := check(context.Background()); err != nil || !called {
		t.Fatalf("expected check to run after the run, called=%v err=%v", called, err)
	}
}

func TestExclusive_PingsDoNotBreakReuse(t *testing.T) {
	ctx := context.Background()
	c, err := db.NewConnector(ctx, config.Target{Backend: config.BackendSQLite, DSN: ":memory:", Pooling: true})
	if err != nil {
		t.Fatalf("NewConnector err=%v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	m := New(probe.New(c, zap.NewNop(), probe.Options{}), zap.NewNop(), Options{})
	ping := m.Exclusive(health.Ping(c, 0))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = ping(ctx)
				}
			}
		}()
	}

	const runs = 500
	for i := 0; i < runs; i++ {
		res, err := m.RunOnce(ctx)
		if err != nil {
			close(stop)
			wg.Wait()
			t.Fatalf("run %d err=%v", i, err)
		}
		if res.Verdict != probe.Pooled {
			close(stop)
			wg.Wait()
			t.Fatalf("run %d: expected Pooled with concurrent pings, got %v (a=%s b=%s)", i, res.Verdict, res.First, res.Second)
		}
	}
	close(stop)
	wg.Wait()

	if s := m.Status(); s.Flips != 0 || s.Runs != runs {
		t.Fatalf("unexpected status %+v", s)
	}
}

type ctxRunner struct{ entered chan struct{} }

func (c *ctxRunner) Run(ctx context.Context) (probe.Result, error) {
	close(c.entered)
	<-ctx.Done()
	return probe.Result{}, &probe.ConnectionError{Op: "connect", Handle: "B", Err: ctx.Err()}
}

func TestRunOnce_CanceledRunIsNotAFailure(t *testing.T) {
	r := &ctxRunner{entered: make(chan struct{})}
	m := New(r, zap.NewNop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.entered
		cancel()
	}()
	if _, err := m.RunOnce(ctx); err == nil {
		t.Fatalf("expected interrupted run to return an error")
	}
	if s := m.Status(); s.Failures != 0 || s.Error != "" {
		t.Fatalf("interrupted run counted as failure: %+v", s)
	}
}
