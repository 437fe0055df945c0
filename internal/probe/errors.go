package probe

import (
	"errors"
	"fmt"
)

// ErrNoRows is wrapped by a QueryError when the session query returned nothing.
var ErrNoRows = errors.New("probe: session query returned no rows")

// ConnectionError reports a failure to open or release a logical connection.
type ConnectionError struct {
	// Op is "open", "connect" or "close".
	Op string
	// Handle names the connection: "A", "B" or "pool".
	Handle string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("probe: %s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a failed session-id lookup.
type QueryError struct {
	Handle string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("probe: session id of %s: %v", e.Handle, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
