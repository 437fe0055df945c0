package db

import (
	"context"
	"errors"
	"fmt"

	"poolprobe/internal/platform/config"
	"poolprobe/internal/probe"
)

// Connector opens probe connections against one target and owns the
// driver-side pool behind them.
type Connector interface {
	probe.Connector
	Ping(ctx context.Context) error
	Close() error
}

// NewConnector builds the backend named by t.Backend and pings it once.
// Failures are reported as *probe.ConnectionError so an unreachable endpoint
// looks the same whether it is caught here or during a run.
func NewConnector(ctx context.Context, t config.Target) (Connector, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	dsn, err := DSN(t)
	if err != nil {
		return nil, err
	}

	var c Connector
	switch t.Backend {
	case config.BackendPostgres:
		c, err = newPostgres(ctx, dsn, t.Pooling, PoolOptions{MaxConns: t.MaxConns})
	case config.BackendMySQL:
		c, err = newSQL(ctx, MySQL, dsn, t)
	case config.BackendSQLServer:
		c, err = newSQL(ctx, SQLServer, dsn, t)
	case config.BackendSQLite:
		c, err = newSQL(ctx, SQLite, dsn, t)
	default:
		return nil, fmt.Errorf("db: unsupported backend %q", t.Backend)
	}
	if err != nil {
		return nil, &probe.ConnectionError{Op: "open", Handle: "pool", Err: err}
	}
	return c, nil
}

func newPostgres(ctx context.Context, dsn string, pooling bool, opts PoolOptions) (Connector, error) {
	c, err := NewPostgresConnector(ctx, dsn, pooling, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newSQL(ctx context.Context, d Dialect, dsn string, t config.Target) (Connector, error) {
	c, err := OpenSQL(ctx, d, dsn, SQLOptions{
		Pooling:      t.Pooling,
		MaxOpenConns: int(t.MaxConns),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
