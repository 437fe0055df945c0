// Package probe checks empirically whether a database driver reuses the
// physical server session across two sequential logical connections.
//
// A run opens connection A, reads its server session id, closes A, opens
// connection B and reads its session id again. Equal ids mean the driver's
// pool handed the same physical session back.
package probe

import (
	"context"
	"errors"
	"time"

	"poolprobe/internal/platform/logging"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Conn is a logical connection owned by the probe for one connect/close cycle.
// It must not be used after Close.
type Conn interface {
	// SessionID asks the server which session this connection is bound to.
	SessionID(ctx context.Context) (SessionID, error)
	// Close releases the connection, back to the driver's pool if pooling is on.
	Close(ctx context.Context) error
}

// Connector opens logical connections against one endpoint.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Result is the outcome of one successful run.
type Result struct {
	RunID    string
	Verdict  Verdict
	First    SessionID
	Second   SessionID
	Overlap  bool
	Duration time.Duration
}

type Options struct {
	// Overlap opens B while A is still held. Only useful to show that
	// reuse requires A to be released first.
	Overlap bool
}

type Probe struct {
	connector Connector
	log       *zap.Logger
	tracer    trace.Tracer
	overlap   bool
}

func New(c Connector, log *zap.Logger, opts Options) *Probe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		connector: c,
		log:       log,
		tracer:    otel.Tracer("poolprobe/probe"),
		overlap:   opts.Overlap,
	}
}

// Run performs one probe. Any failure aborts the run without a verdict.
func (p *Probe) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("probe: nil context")
	}
	if p == nil || p.connector == nil {
		return Result{}, errors.New("probe: nil connector")
	}

	res := Result{RunID: uuid.NewString(), Overlap: p.overlap}
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "probe.run", trace.WithAttributes(
		attribute.String("probe.run_id", res.RunID),
		attribute.Bool("probe.overlap", p.overlap),
	))
	defer span.End()

	log := logging.WithTrace(ctx, logging.From(ctx, p.log)).With(zap.String("run_id", res.RunID))

	var err error
	if p.overlap {
		err = p.overlapped(ctx, &res)
	} else {
		err = p.sequential(ctx, &res)
	}
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug("probe failed", zap.Error(err), zap.Duration("duration", res.Duration))
		return Result{}, err
	}

	res.Verdict = VerdictOf(res.First, res.Second)
	span.SetAttributes(attribute.String("probe.verdict", res.Verdict.String()))
	log.Info("probe finished",
		zap.Stringer("verdict", res.Verdict),
		zap.String("session_a", string(res.First)),
		zap.String("session_b", string(res.Second)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// RunN runs the probe n times back to back and stops at the first failure.
// Results gathered before the failure are returned with the error.
func (p *Probe) RunN(ctx context.Context, n int) ([]Result, error) {
	if n < 1 {
		n = 1
	}
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		r, err := p.Run(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// sequential: open A, read A, close A, open B, read B, close B.
// A is closed before B is opened; swapping those two steps makes reuse impossible.
func (p *Probe) sequential(ctx context.Context, res *Result) error {
	a, err := p.connect(ctx, "A")
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			p.release(ctx, "A", a)
		}
	}()

	if res.First, err = p.sessionID(ctx, "A", a); err != nil {
		return err
	}

	closed = true
	trace.SpanFromContext(ctx).AddEvent("close A")
	if err := a.Close(ctx); err != nil {
		return &ConnectionError{Op: "close", Handle: "A", Err: err}
	}

	b, err := p.connect(ctx, "B")
	if err != nil {
		return err
	}
	defer p.release(ctx, "B", b)

	res.Second, err = p.sessionID(ctx, "B", b)
	return err
}

func (p *Probe) overlapped(ctx context.Context, res *Result) error {
	a, err := p.connect(ctx, "A")
	if err != nil {
		return err
	}
	defer p.release(ctx, "A", a)

	if res.First, err = p.sessionID(ctx, "A", a); err != nil {
		return err
	}

	b, err := p.connect(ctx, "B")
	if err != nil {
		return err
	}
	defer p.release(ctx, "B", b)

	res.Second, err = p.sessionID(ctx, "B", b)
	return err
}

func (p *Probe) connect(ctx context.Context, handle string) (Conn, error) {
	trace.SpanFromContext(ctx).AddEvent("connect " + handle)
	c, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Handle: handle, Err: err}
	}
	if c == nil {
		return nil, &ConnectionError{Op: "connect", Handle: handle, Err: errors.New("nil connection")}
	}
	return c, nil
}

func (p *Probe) sessionID(ctx context.Context, handle string, c Conn) (SessionID, error) {
	trace.SpanFromContext(ctx).AddEvent("session id " + handle)
	id, err := c.SessionID(ctx)
	if err != nil {
		return "", &QueryError{Handle: handle, Err: err}
	}
	if id == "" {
		return "", &QueryError{Handle: handle, Err: ErrNoRows}
	}
	return id, nil
}

// release closes c on exit paths where the verdict no longer depends on it.
// It runs even if ctx was canceled.
func (p *Probe) release(ctx context.Context, handle string, c Conn) {
	if err := c.Close(context.WithoutCancel(ctx)); err != nil {
		p.log.Warn("release connection failed", zap.String("handle", handle), zap.Error(err))
	}
}
