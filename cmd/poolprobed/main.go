package main

import (
	"context"
	"flag"
	"os"

	"poolprobe/internal/db"
	"poolprobe/internal/monitor"
	"poolprobe/internal/platform/boot"
	"poolprobe/internal/platform/config"
	"poolprobe/internal/platform/health"
	"poolprobe/internal/platform/metrics"
	"poolprobe/internal/probe"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.Getenv("POOLPROBE_CONFIG", ""), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger belongs to boot.Run; config errors happen before it exists.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	err = boot.Run(context.Background(), boot.Options{
		ServiceName: "poolprobed",
		OTELExtraAttrs: []attribute.KeyValue{
			attribute.String("db.system", cfg.Target.Backend),
		},
	}, func(ctx context.Context, deps boot.Deps) (boot.Main, error) {
		return build(ctx, deps, cfg)
	})
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func build(ctx context.Context, deps boot.Deps, cfg *config.Config) (boot.Main, error) {
	log := deps.Log.With(
		zap.String("backend", cfg.Target.Backend),
		zap.String("endpoint", cfg.Target.Endpoint),
		zap.Bool("pooling", cfg.Target.Pooling),
	)

	openCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := db.NewConnector(openCtx, cfg.Target)
	if err != nil {
		log.Error("db connect failed", zap.Error(err))
		return boot.Main{}, err
	}

	if sc, ok := conn.(*db.SQLConnector); ok {
		if err := deps.Registerer.Register(collectors.NewDBStatsCollector(sc.DB(), cfg.Target.Backend)); err != nil {
			log.Warn("db stats collector disabled", zap.Error(err))
		}
	}

	pm, err := metrics.NewProbeMetrics("poolprobed", cfg.Target.Backend)
	if err != nil {
		log.Warn("probe metrics disabled (init failed)", zap.Error(err))
	}

	mon := monitor.New(probe.New(conn, log, probe.Options{}), log, monitor.Options{
		Interval: cfg.Interval,
		Timeout:  cfg.Timeout,
		Metrics:  pm,
	})

	// The ping shares the observed pool; it must not run between close A and open B.
	deps.ReadyRoot.Add("db", mon.Exclusive(health.Ping(conn, 0)))
	deps.ReadyRoot.Add("probe", mon.Ready)
	deps.Handlers["/verdict"] = mon.Handler()

	runCtx, stop := context.WithCancel(ctx)

	log.Info("poolprobed started", zap.Duration("interval", cfg.Interval))

	return boot.Main{
		Serve: func() error {
			return mon.Serve(runCtx)
		},
		Shutdown: func(context.Context) error {
			stop()
			return conn.Close()
		},
	}, nil
}
