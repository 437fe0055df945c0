package health

import "context"

// Static returns a check with a fixed outcome, for pieces that are ready
// once boot has wired them.
func Static(err error) Check {
	return func(context.Context) error { return err }
}
