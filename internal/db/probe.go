package db

import (
	"context"
	"errors"
	"fmt"

	"poolprobe/internal/platform/config"
	"poolprobe/internal/probe"

	"go.uber.org/zap"
)

// Probe connects to t, runs the probe once and closes the connector.
func Probe(ctx context.Context, t config.Target, log *zap.Logger, opts probe.Options) (probe.Result, error) {
	results, err := ProbeN(ctx, t, log, opts, 1)
	if err != nil {
		return probe.Result{}, err
	}
	return results[0], nil
}

// ProbeN is Probe repeated n times against one connector, so pooled runs
// share the same driver pool. It stops at the first failure.
func ProbeN(ctx context.Context, t config.Target, log *zap.Logger, opts probe.Options, n int) (results []probe.Result, err error) {
	c, err := NewConnector(ctx, t)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("db: close connector: %w", cerr))
		}
	}()

	return probe.New(c, log, opts).RunN(ctx, n)
}
