package db

import (
	"context"
	"testing"
	"time"

	"poolprobe/internal/platform/config"
	"poolprobe/internal/probe"

	"go.uber.org/zap"
)

func sqliteConnector(t *testing.T, pooling bool) Connector {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := NewConnector(ctx, config.Target{
		Backend: config.BackendSQLite,
		DSN:     ":memory:",
		Pooling: pooling,
	})
	if err != nil {
		t.Fatalf("NewConnector err=%v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLite_PoolingOn(t *testing.T) {
	c := sqliteConnector(t, true)

	res, err := probe.New(c, zap.NewNop(), probe.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Verdict != probe.Pooled {
		t.Fatalf("expected Pooled, got %v (a=%s b=%s)", res.Verdict, res.First, res.Second)
	}
}

func TestSQLite_PoolingOff(t *testing.T) {
	c := sqliteConnector(t, false)

	res, err := probe.New(c, zap.NewNop(), probe.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Verdict != probe.NotPooled {
		t.Fatalf("expected Not Pooled, got %v (a=%s b=%s)", res.Verdict, res.First, res.Second)
	}

	st := c.(*SQLConnector).DB().Stats()
	if st.Idle != 0 {
		t.Fatalf("expected no idle conns with pooling off, got %d", st.Idle)
	}
}

func TestSQLite_OverlapNotPooled(t *testing.T) {
	c := sqliteConnector(t, true)

	res, err := probe.New(c, zap.NewNop(), probe.Options{Overlap: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Verdict != probe.NotPooled {
		t.Fatalf("overlapped run must be Not Pooled, got %v", res.Verdict)
	}
}

func TestSQLite_Idempotent(t *testing.T) {
	for _, pooling := range []bool{true, false} {
		c := sqliteConnector(t, pooling)
		results, err := probe.New(c, zap.NewNop(), probe.Options{}).RunN(context.Background(), 2)
		if err != nil {
			t.Fatalf("RunN err=%v", err)
		}
		if !probe.Consistent(results) {
			t.Fatalf("pooling=%v: verdicts disagree: %v then %v", pooling, results[0].Verdict, results[1].Verdict)
		}
	}
}

func TestSQLite_SessionMarkerStable(t *testing.T) {
	c := sqliteConnector(t, true)
	ctx := context.Background()

	conn, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	a, err := conn.SessionID(ctx)
	if err != nil {
		t.Fatalf("SessionID err=%v", err)
	}
	b, err := conn.SessionID(ctx)
	if err != nil {
		t.Fatalf("SessionID err=%v", err)
	}
	if a == "" || a != b {
		t.Fatalf("expected stable session id on one conn, got %q then %q", a, b)
	}
}

func TestOpenSQL_Guards(t *testing.T) {
	if _, err := OpenSQL(nil, SQLite, ":memory:", SQLOptions{}); err == nil {
		t.Fatalf("expected error for nil ctx")
	}
	if _, err := OpenSQL(context.Background(), SQLite, "", SQLOptions{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestProbe_Target(t *testing.T) {
	ctx := context.Background()

	res, err := Probe(ctx, config.Target{Backend: config.BackendSQLite, DSN: ":memory:", Pooling: true}, zap.NewNop(), probe.Options{})
	if err != nil {
		t.Fatalf("Probe err=%v", err)
	}
	if res.Verdict != probe.Pooled {
		t.Fatalf("expected Pooled, got %v", res.Verdict)
	}

	results, err := ProbeN(ctx, config.Target{Backend: config.BackendSQLite, DSN: ":memory:"}, zap.NewNop(), probe.Options{}, 3)
	if err != nil {
		t.Fatalf("ProbeN err=%v", err)
	}
	if len(results) != 3 || !probe.Consistent(results) || results[0].Verdict != probe.NotPooled {
		t.Fatalf("expected 3 consistent Not Pooled results, got %+v", results)
	}
}
