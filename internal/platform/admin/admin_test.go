package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"poolprobe/internal/platform/health"

	"go.uber.org/zap"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s err=%v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestStart_Endpoints(t *testing.T) {
	ready := health.Root("ready")
	ready.Add("probe", func(context.Context) error { return errors.New("no verdict yet") })

	srv, err := Start(zap.NewNop(), Options{
		Addr:        "127.0.0.1:0",
		ServiceName: "poolprobed",
		ReadyRoot:   ready,
		Handlers: map[string]http.Handler{
			"/verdict": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("Pooled"))
			}),
		},
	})
	if err != nil {
		t.Fatalf("Start err=%v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	base := "http://" + srv.Addr()

	if code, body := get(t, base+"/livez"); code != http.StatusOK || body != "ok" {
		t.Fatalf("/livez code=%d body=%q", code, body)
	}
	if code, _ := get(t, base+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz expected 503, got %d", code)
	}
	if code, body := get(t, base+"/verdict"); code != http.StatusOK || body != "Pooled" {
		t.Fatalf("/verdict code=%d body=%q", code, body)
	}
	if code, body := get(t, base+"/"); code != http.StatusOK || !strings.Contains(body, "/verdict") {
		t.Fatalf("/ code=%d body=%q", code, body)
	}
	if code, _ := get(t, base+"/nope"); code != http.StatusNotFound {
		t.Fatalf("/nope expected 404, got %d", code)
	}
}

func TestStart_DuplicateRoute(t *testing.T) {
	_, err := Start(zap.NewNop(), Options{
		Addr:     "127.0.0.1:0",
		Handlers: map[string]http.Handler{"/livez": http.NotFoundHandler()},
	})
	if err == nil {
		t.Fatalf("expected error for duplicate /livez")
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(zap.NewNop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/verdict", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
