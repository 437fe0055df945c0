// Package admin runs the side HTTP listener of poolprobed: liveness,
// readiness, Prometheus metrics and the verdict endpoint.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"poolprobe/internal/platform/health"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Server struct {
	srv *http.Server
	ln  net.Listener
}

type Options struct {
	Addr        string
	ServiceName string

	Metrics      http.Handler
	ReadyRoot    *health.Node
	ReadyTimeout time.Duration
	// ServingFn gates /readyz; false turns it 503 during shutdown.
	ServingFn func() bool

	// Handlers are extra routes keyed by path, e.g. /verdict.
	Handlers map[string]http.Handler
}

// Start binds Addr and serves in the background. The listener is bound
// before Start returns, so Addr() is valid immediately (":0" included).
func Start(log *zap.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	routes := map[string]http.Handler{"/livez": health.Livez()}
	if opts.ReadyRoot != nil {
		routes["/readyz"] = health.Handler(opts.ReadyRoot, opts.ServingFn, opts.ReadyTimeout)
	}
	if opts.Metrics != nil {
		routes["/metrics"] = opts.Metrics
	}
	for path, h := range opts.Handlers {
		if _, taken := routes[path]; taken {
			return nil, errors.New("admin: duplicate route " + path)
		}
		routes[path] = h
	}

	mux := http.NewServeMux()
	for path, h := range routes {
		// Scrapes and probes hit these constantly; only trace the rest.
		if path == "/livez" || path == "/readyz" || path == "/metrics" {
			mux.Handle(path, h)
			continue
		}
		mux.Handle(path, otelhttp.NewHandler(h, opts.ServiceName+" "+path))
	}
	mux.Handle("/", index(routes))

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           recoverer(log, mux),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       time.Minute,
		},
	}

	log.Info("admin server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server error", zap.Error(err))
		}
	}()
	return s, nil
}

// index lists the mounted routes at "/" and 404s everything else.
func index(routes map[string]http.Handler) http.Handler {
	paths := make([]string, 0, len(routes))
	for p := range routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	body := strings.Join(paths, "\n") + "\n"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

// recoverer keeps a panicking route from taking the listener down with it.
func recoverer(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error("admin handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Addr is the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
