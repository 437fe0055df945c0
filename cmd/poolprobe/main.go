package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"poolprobe/internal/db"
	"poolprobe/internal/platform/config"
	"poolprobe/internal/platform/logging"
	"poolprobe/internal/platform/otel"
	"poolprobe/internal/probe"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run prints exactly one verdict line to stdout on success. On failure
// nothing is printed there and the exit code is 1.
func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("poolprobe", flag.ContinueOnError)
	var (
		configPath = fs.String("config", config.Getenv("POOLPROBE_CONFIG", ""), "YAML config file")
		backend    = fs.String("backend", "", "postgres, mysql, sqlserver or sqlite")
		endpoint   = fs.String("endpoint", "", "host:port, or a file path for sqlite")
		database   = fs.String("database", "", "database name")
		user       = fs.String("user", "", "user name (password comes from POOLPROBE_PASSWORD)")
		pooling    = fs.String("pooling", "", "on or off; overrides config")
		overlap    = fs.Bool("overlap", false, "open B before closing A")
		runs       = fs.Int("runs", 1, "repeat the probe; fails if verdicts disagree")
		timeout    = fs.Duration("timeout", 0, "overall timeout; overrides config")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log, err := logging.New("poolprobe")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	var poolingErr error
	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *backend != "" {
			c.Target.Backend = *backend
		}
		if *endpoint != "" {
			c.Target.Endpoint = *endpoint
		}
		if *database != "" {
			c.Target.Database = *database
		}
		if *user != "" {
			c.Target.Credentials.User = *user
		}
		if *pooling != "" {
			on, err := parseSwitch(*pooling)
			if err != nil {
				poolingErr = err
				return
			}
			c.Target.Pooling = on
		}
		if *timeout > 0 {
			c.Timeout = *timeout
		}
	})
	if err == nil {
		err = poolingErr
	}
	if err != nil {
		log.Error("config", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Traces only when an exporter is configured; the stderr fallback is too
	// noisy for a one-shot tool.
	if otel.ExporterConfigured() {
		shutdownOTEL, err := otel.Init(ctx, "poolprobe",
			attribute.String("db.system", cfg.Target.Backend),
		)
		if err != nil {
			log.Error("otel init failed", zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = shutdownOTEL(shutdownCtx)
		}()
	}

	log = log.With(
		zap.String("backend", cfg.Target.Backend),
		zap.String("endpoint", cfg.Target.Endpoint),
		zap.Bool("pooling", cfg.Target.Pooling),
	)

	results, err := db.ProbeN(ctx, cfg.Target, log, probe.Options{Overlap: *overlap}, *runs)
	if err != nil {
		logFailure(log, err)
		return 1
	}
	if !probe.Consistent(results) {
		log.Error("verdicts disagree across runs", zap.Int("runs", len(results)))
		return 1
	}

	fmt.Fprintln(stdout, results[0].Verdict)
	return 0
}

func logFailure(log *zap.Logger, err error) {
	var ce *probe.ConnectionError
	var qe *probe.QueryError
	switch {
	case errors.As(err, &ce):
		log.Error("connection failed", zap.String("op", ce.Op), zap.String("handle", ce.Handle), zap.Error(ce.Err))
	case errors.As(err, &qe):
		log.Error("session query failed", zap.String("handle", qe.Handle), zap.Error(qe.Err))
	default:
		log.Error("probe failed", zap.Error(err))
	}
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("pooling: want on or off, got %q", v)
	}
	return b, nil
}
