package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// ShutdownFn flushes and stops the tracer provider.
type ShutdownFn func(context.Context) error

// Init installs the global tracer provider.
//
// With OTEL_EXPORTER_OTLP_ENDPOINT set, spans go there over
// OTEL_EXPORTER_OTLP_PROTOCOL ("grpc", the default, or "http/protobuf");
// OTEL_EXPORTER_OTLP_INSECURE=true disables TLS for either. Without it, spans
// are pretty-printed to stderr, never stdout, which carries the verdict.
// OTEL_RESOURCE_ATTRIBUTES and OTEL_TRACES_SAMPLER* are honored by the SDK.
func Init(ctx context.Context, serviceName string, extraAttrs ...attribute.KeyValue) (ShutdownFn, error) {
	res, err := newResource(ctx, serviceName, extraAttrs...)
	if err != nil {
		return nil, err
	}

	exp, err := newTraceExporter(ctx)
	if err != nil {
		return nil, err
	}

	// Probe runs are few and short; a small batch flushed often is enough.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(2*time.Second),
			sdktrace.WithMaxQueueSize(256),
			sdktrace.WithMaxExportBatchSize(64),
		),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// tp.Shutdown also shuts the exporter down.
	return tp.Shutdown, nil
}

// newResource describes this process for both traces and metrics.
func newResource(ctx context.Context, serviceName string, extraAttrs ...attribute.KeyValue) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithAttributes(extraAttrs...),
	)
}

// ExporterConfigured reports whether traces have a real destination.
// One-shot tools use it to skip the stderr fallback.
func ExporterConfigured() bool {
	return endpoint() != ""
}

func endpoint() string {
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func insecure() bool {
	return strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true")
}

func newTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	ep := endpoint()
	if ep == "" {
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	}

	proto := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")))
	switch proto {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(ep)}
		if insecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case "http/protobuf", "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep)}
		if insecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	default:
		return nil, errors.Join(
			errors.New("otel: unsupported OTEL_EXPORTER_OTLP_PROTOCOL"),
			fmt.Errorf("got %q", proto),
		)
	}
}
