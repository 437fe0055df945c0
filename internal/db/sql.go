package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"poolprobe/internal/probe"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// Dialect describes how to read the server session id of a database/sql connection.
type Dialect struct {
	Name         string
	Driver       string
	SessionQuery string
	// Prepare runs on the connection before SessionQuery when set.
	Prepare func(ctx context.Context, conn *sql.Conn) error
}

var (
	MySQL = Dialect{
		Name:         "mysql",
		Driver:       "mysql",
		SessionQuery: "SELECT CONNECTION_ID()",
	}

	// SQLServer needs VIEW SERVER STATE to read sys.dm_exec_connections.
	SQLServer = Dialect{
		Name:         "sqlserver",
		Driver:       "sqlserver",
		SessionQuery: "SELECT CAST([connection_id] AS nvarchar(36)) FROM [sys].[dm_exec_connections] WHERE [session_id] = @@SPID",
	}

	// SQLite has no server session. A TEMP table lives exactly as long as the
	// physical connection, so a marker stored there stands in for one.
	SQLite = Dialect{
		Name:         "sqlite",
		Driver:       "sqlite3",
		SessionQuery: "SELECT id FROM temp.poolprobe_session LIMIT 1",
		Prepare:      markSQLiteSession,
	}
)

func markSQLiteSession(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS poolprobe_session (id TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO temp.poolprobe_session (id)
		SELECT ? WHERE NOT EXISTS (SELECT 1 FROM temp.poolprobe_session)
	`, uuid.NewString())
	return err
}

type SQLOptions struct {
	// Pooling off sets MaxIdleConns to zero so database/sql discards every
	// released connection instead of keeping it.
	Pooling         bool
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	InitialPingTimeout time.Duration
}

func (o SQLOptions) withDefaults() SQLOptions {
	if o.InitialPingTimeout <= 0 {
		o.InitialPingTimeout = 2 * time.Second
	}
	if o.MaxOpenConns > 0 && o.MaxOpenConns < 2 {
		o.MaxOpenConns = 2
	}
	return o
}

// SQLConnector probes a database/sql driver pool.
type SQLConnector struct {
	db      *sql.DB
	dialect Dialect
}

func OpenSQL(ctx context.Context, d Dialect, dsn string, opts SQLOptions) (*SQLConnector, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}

	opts = opts.withDefaults()

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", d.Name, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.Pooling {
		db.SetMaxIdleConns(2)
	} else {
		db.SetMaxIdleConns(0)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.InitialPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: initial ping: %w", err)
	}

	return &SQLConnector{db: db, dialect: d}, nil
}

func (c *SQLConnector) Connect(ctx context.Context) (probe.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: %s conn: %w", c.dialect.Name, err)
	}
	return &sqlConn{conn: conn, dialect: c.dialect}, nil
}

func (c *SQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLConnector) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle for pool stats collectors.
func (c *SQLConnector) DB() *sql.DB {
	return c.db
}

type sqlConn struct {
	conn    *sql.Conn
	dialect Dialect
}

func (c *sqlConn) SessionID(ctx context.Context) (probe.SessionID, error) {
	if c.dialect.Prepare != nil {
		if err := c.dialect.Prepare(ctx, c.conn); err != nil {
			return "", err
		}
	}

	var id string
	if err := c.conn.QueryRowContext(ctx, c.dialect.SessionQuery).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", probe.ErrNoRows
		}
		return "", err
	}
	return probe.SessionID(id), nil
}

// Close hands the connection back to database/sql, which keeps or discards it.
func (c *sqlConn) Close(context.Context) error {
	return c.conn.Close()
}
