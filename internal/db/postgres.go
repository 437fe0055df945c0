package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"poolprobe/internal/probe"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSessionQuery = "SELECT pg_backend_pid()"

// PostgresConnector hands out pgxpool connections when pooling is on, and
// dials a fresh pgx.Conn per Connect when it is off.
type PostgresConnector struct {
	dsn  string
	pool *pgxpool.Pool // nil when pooling is off
}

func NewPostgresConnector(ctx context.Context, dsn string, pooling bool, opts PoolOptions) (*PostgresConnector, error) {
	if !pooling {
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return nil, fmt.Errorf("db: parse config: %w", err)
		}
		c := &PostgresConnector{dsn: dsn}
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("db: initial ping: %w", err)
		}
		return c, nil
	}

	pool, err := OpenPool(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresConnector{dsn: dsn, pool: pool}, nil
}

func (c *PostgresConnector) Connect(ctx context.Context) (probe.Conn, error) {
	if c.pool != nil {
		pc, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("db: acquire: %w", err)
		}
		return &pgPooledConn{conn: pc}, nil
	}

	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return &pgConn{conn: conn}, nil
}

func (c *PostgresConnector) Ping(ctx context.Context) error {
	if c.pool != nil {
		return Check(ctx, c.pool)
	}
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()
	return Check(ctx, conn)
}

func (c *PostgresConnector) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

type pgPooledConn struct {
	conn *pgxpool.Conn
}

func (c *pgPooledConn) SessionID(ctx context.Context) (probe.SessionID, error) {
	return pgSessionID(ctx, c.conn)
}

// Close returns the connection to the pool.
func (c *pgPooledConn) Close(context.Context) error {
	c.conn.Release()
	return nil
}

type pgConn struct {
	conn *pgx.Conn
}

func (c *pgConn) SessionID(ctx context.Context) (probe.SessionID, error) {
	return pgSessionID(ctx, c.conn)
}

func (c *pgConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func pgSessionID(ctx context.Context, q Querier) (probe.SessionID, error) {
	var pid int32
	if err := q.QueryRow(ctx, postgresSessionQuery).Scan(&pid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", probe.ErrNoRows
		}
		return "", err
	}
	return probe.SessionID(strconv.FormatInt(int64(pid), 10)), nil
}
