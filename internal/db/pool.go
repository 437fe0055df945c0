package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the pgx pool behind a pooled postgres connector.
type PoolOptions struct {
	// MaxConns caps the pool. Zero keeps the pgx default; anything below two
	// is raised to two so an overlapped run can hold A and B together.
	MaxConns int32

	// IdleTimeout closes connections idle longer than this. Zero keeps the
	// pgx default, which is far longer than one probe run.
	IdleTimeout time.Duration

	// PingTimeout bounds the startup round trip. Defaults to 2s.
	PingTimeout time.Duration
}

func (o PoolOptions) normalize() PoolOptions {
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	if o.MaxConns > 0 && o.MaxConns < 2 {
		o.MaxConns = 2
	}
	return o
}

// OpenPool opens a pgx pool with no warm connections and pings it once.
// MinConns is pinned to zero: a background connection opened by the pool
// itself would make the first Acquire look like reuse.
func OpenPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	opts = opts.normalize()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	cfg.MinConns = 0
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = opts.IdleTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := Check(pingCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: initial ping: %w", err)
	}
	return pool, nil
}
