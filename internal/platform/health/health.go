// Package health evaluates a tree of named checks for /livez and /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check reports nil when the dependency is usable.
type Check func(ctx context.Context) error

// Node is one named check plus the checks that depend on it passing.
type Node struct {
	Name     string
	Check    Check
	Children []*Node
}

// Report is the evaluated state of a Node.
type Report struct {
	Name     string            `json:"name"`
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Took     string            `json:"took"`
	Children map[string]Report `json:"children,omitempty"`
}

// Root returns an empty node to hang checks off.
func Root(name string) *Node {
	return &Node{Name: name}
}

// Add attaches a child check and returns it so callers can nest further.
func (n *Node) Add(name string, check Check) *Node {
	child := &Node{Name: name, Check: check}
	n.Children = append(n.Children, child)
	return child
}

// Evaluate runs n's check and, if it passes, all children concurrently.
// The database ping and the probe verdict are independent, so a slow
// endpoint should not serialize behind the other.
func Evaluate(ctx context.Context, n *Node) Report {
	start := time.Now()
	rep := Report{Name: n.Name, OK: true}

	if n.Check != nil {
		if err := n.Check(ctx); err != nil {
			rep.OK = false
			rep.Error = err.Error()
			rep.Took = time.Since(start).String()
			return rep
		}
	}
	if len(n.Children) == 0 {
		rep.Took = time.Since(start).String()
		return rep
	}

	reports := make([]Report, len(n.Children))
	var wg sync.WaitGroup
	for i, c := range n.Children {
		wg.Add(1)
		go func(i int, c *Node) {
			defer wg.Done()
			reports[i] = Evaluate(ctx, c)
		}(i, c)
	}
	wg.Wait()

	rep.Children = make(map[string]Report, len(reports))
	for _, r := range reports {
		rep.Children[r.Name] = r
		if !r.OK {
			rep.OK = false
		}
	}
	rep.Took = time.Since(start).String()
	return rep
}

// Handler serves Evaluate(root) as JSON, 503 when anything fails.
// serving, if set, short-circuits to 503 during shutdown.
func Handler(root *Node, serving func() bool, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serving != nil && !serving() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		rep := Evaluate(ctx, root)
		w.Header().Set("content-type", "application/json")
		if !rep.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	})
}

// Livez answers 200 while the process can serve HTTP at all.
func Livez() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}
