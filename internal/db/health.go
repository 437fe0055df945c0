package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Querier is the slice of pgx shared by *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Check runs a trivial round trip: it hits the wire and validates auth.
func Check(ctx context.Context, q Querier) error {
	if ctx == nil {
		return errors.New("db: nil context")
	}
	if q == nil {
		return errors.New("db: nil querier")
	}

	var one int
	if err := q.QueryRow(ctx, "select 1").Scan(&one); err != nil {
		return err
	}
	return nil
}
