// Package boot is the process scaffolding shared by long-running binaries:
// logger, tracing, Prometheus metrics, readiness and the admin listener.
package boot

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"poolprobe/internal/platform/admin"
	"poolprobe/internal/platform/config"
	"poolprobe/internal/platform/health"
	"poolprobe/internal/platform/logging"
	"poolprobe/internal/platform/otel"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Main is the long-running loop of a service.
type Main struct {
	Serve    func() error
	Shutdown func(context.Context) error
}

// Deps are handed to build. build may add readiness checks and handlers.
type Deps struct {
	Log        *zap.Logger
	Registerer prom.Registerer
	ReadyRoot  *health.Node
	Handlers   map[string]http.Handler
}

type Options struct {
	ServiceName string

	// AdminAddrEnv names the env var holding the admin listen address.
	// Defaults to <PREFIX>_ADMIN_ADDR, e.g. POOLPROBE_ADMIN_ADDR for poolprobed.
	AdminAddrEnv string
	// AdminAddr is used when the env var is unset. Defaults to :8081.
	AdminAddr string

	// OTELExtraAttrs are added to both the trace and metric resources.
	OTELExtraAttrs []attribute.KeyValue

	ShutdownTimeout time.Duration
}

func (o Options) normalize() Options {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.AdminAddrEnv == "" {
		o.AdminAddrEnv = upperServiceEnvPrefix(o.ServiceName) + "_ADMIN_ADDR"
	}
	if o.AdminAddr == "" {
		o.AdminAddr = ":8081"
	}
	return o
}

// closers unwinds whatever boot started, last first.
type closers []func(context.Context) error

func (c *closers) push(f func(context.Context) error) { *c = append(*c, f) }

func (c closers) close(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run boots the platform, lets build wire the service, starts the admin
// server and runs Main.Serve until it returns, ctx is canceled, or SIGINT or
// SIGTERM arrives. Everything is then shut down in reverse start order.
func Run(ctx context.Context, opts Options, build func(ctx context.Context, deps Deps) (Main, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ServiceName == "" {
		return errors.New("boot: ServiceName is required")
	}
	opts = opts.normalize()

	log, err := logging.New(opts.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var stack closers
	fail := func(err error) error {
		return errors.Join(err, stack.close(context.Background()))
	}

	shutdownTrace, err := otel.Init(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		return err
	}
	stack.push(shutdownTrace)

	prometheus, err := otel.InitMetricsPrometheus(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		return fail(err)
	}
	stack.push(prometheus.Shutdown)

	deps := Deps{
		Log:        log,
		Registerer: prometheus.Registerer,
		ReadyRoot:  health.Root("ready"),
		Handlers:   map[string]http.Handler{},
	}
	deps.ReadyRoot.Add("telemetry", health.Static(nil))

	main, err := build(runCtx, deps)
	if err != nil {
		return fail(err)
	}
	if main.Serve == nil || main.Shutdown == nil {
		return fail(errors.New("boot: Main.Serve and Main.Shutdown are required"))
	}
	stack.push(main.Shutdown)

	var serving atomic.Bool
	serving.Store(true)

	adminSrv, err := admin.Start(log, admin.Options{
		Addr:        config.Getenv(opts.AdminAddrEnv, opts.AdminAddr),
		ServiceName: opts.ServiceName,
		Metrics:     prometheus.Handler,
		ReadyRoot:   deps.ReadyRoot,
		ServingFn:   serving.Load,
		Handlers:    deps.Handlers,
	})
	if err != nil {
		return fail(err)
	}
	stack.push(adminSrv.Shutdown)

	errCh := make(chan error, 1)
	go func() { errCh <- main.Serve() }()

	var serveErr error
	returned := false
	select {
	case <-runCtx.Done():
		if ctx.Err() == nil {
			log.Info("shutdown signal")
		}
	case serveErr = <-errCh:
		returned = true
		if serveErr != nil {
			log.Error("main loop exited", zap.Error(serveErr))
		}
	}
	cancel()

	// /readyz goes 503 before anything stops.
	serving.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer shutdownCancel()

	// Let work in flight finish before Main.Shutdown pulls resources from under it.
	if !returned {
		select {
		case serveErr = <-errCh:
		case <-shutdownCtx.Done():
			log.Warn("main loop still running at shutdown timeout")
		}
	}
	return errors.Join(serveErr, stack.close(shutdownCtx))
}

// upperServiceEnvPrefix maps "poolprobed" to "POOLPROBE": trailing 'd'
// dropped, uppercased, '-' and ' ' turned into '_'.
func upperServiceEnvPrefix(service string) string {
	s := service
	if len(s) > 1 && s[len(s)-1] == 'd' {
		s = s[:len(s)-1]
	}
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(s))
}
