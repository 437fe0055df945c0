package metrics

import (
	"context"
	"errors"

	"poolprobe/internal/probe"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ProbeMetrics provides low-cardinality metrics for probe runs.
type ProbeMetrics struct {
	backend string

	runs     metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	pooled   metric.Int64Gauge
}

func NewProbeMetrics(service, backend string) (*ProbeMetrics, error) {
	m := otel.Meter("poolprobe/" + service)

	runs, err := m.Int64Counter(
		"poolprobe.runs",
		metric.WithDescription("Completed probe runs by verdict"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := m.Int64Counter(
		"poolprobe.failures",
		metric.WithDescription("Probe runs aborted without a verdict"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"poolprobe.duration",
		metric.WithDescription("Probe run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	pooled, err := m.Int64Gauge(
		"poolprobe.pooled",
		metric.WithDescription("1 if the last verdict was Pooled, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}

	return &ProbeMetrics{
		backend:  backend,
		runs:     runs,
		failures: failures,
		latency:  latency,
		pooled:   pooled,
	}, nil
}

// Record accounts for one run. res is ignored when err is non-nil.
func (m *ProbeMetrics) Record(ctx context.Context, res probe.Result, err error) {
	if m == nil {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("db.system", m.backend),
		attribute.Bool("probe.overlap", res.Overlap),
	}

	if err != nil {
		attrs := append(base, attribute.String("error.kind", errorKind(err)))
		m.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}

	attrs := append(base, attribute.String("probe.verdict", res.Verdict.String()))
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.latency.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(attrs...))

	var v int64
	if res.Verdict == probe.Pooled {
		v = 1
	}
	m.pooled.Record(ctx, v, metric.WithAttributes(base...))
}

func errorKind(err error) string {
	var ce *probe.ConnectionError
	var qe *probe.QueryError
	switch {
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &qe):
		return "query"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
