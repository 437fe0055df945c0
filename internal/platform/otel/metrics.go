package otel

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Probe runs span a handful of round trips: sub-millisecond on a warm pool,
// seconds when a TLS handshake or login is involved.
var probeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Prometheus is an OTEL MeterProvider exposed as a Prometheus scrape target.
type Prometheus struct {
	// Handler serves /metrics.
	Handler http.Handler
	// Registerer accepts native collectors, e.g. database/sql pool stats.
	Registerer prom.Registerer
	Shutdown   ShutdownFn
}

// InitMetricsPrometheus installs the global MeterProvider on a dedicated
// registry that also carries process, Go and runtime metrics.
func InitMetricsPrometheus(ctx context.Context, serviceName string, extraAttrs ...attribute.KeyValue) (*Prometheus, error) {
	res, err := newResource(ctx, serviceName, extraAttrs...)
	if err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "poolprobe.duration"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: probeDurationBuckets,
			}},
		)),
	)
	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}

	return &Prometheus{
		Handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Registerer: reg,
		Shutdown:   mp.Shutdown,
	}, nil
}
