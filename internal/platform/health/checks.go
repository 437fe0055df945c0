package health

import (
	"context"
	"errors"
	"time"
)

// Pinger is satisfied by the db connectors.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a database endpoint, bounded by budget (one second if zero).
func Ping(p Pinger, budget time.Duration) Check {
	if budget <= 0 {
		budget = time.Second
	}
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("health: nil pinger")
		}
		ctx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		return p.Ping(ctx)
	}
}
