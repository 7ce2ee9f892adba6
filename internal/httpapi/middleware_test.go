package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TestMetricsMiddleware_UsesRoutePattern ensures the metrics middleware labels
// by the chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := NewMux(&mockService{meta: testMeta()})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("annotd_http_requests_total")) || !bytes.Contains(body, []byte(`path="/healthz"`)) {
		t.Fatalf("expected annotd_http_requests_total with /healthz")
	}
}

func TestRouteFallbackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/no/router", nil)
	if got := routePatternOrPath(req); got != "/no/router" {
		t.Fatalf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_HeaderOverride(t *testing.T) {
	SetDefaultLogLevel("off")
	r := httptest.NewRequest("GET", "/?log=debug", nil)
	if got := requestLogLevel(r); got != LevelOff {
		t.Fatalf("query string must not change log level: %v", got)
	}
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestSetMaxBodyBytes(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 64<<20 {
		t.Fatalf("expected default, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetAnnotateTimeout_NormalizesNegativeToZero(t *testing.T) {
	defer SetAnnotateTimeout(0)
	SetAnnotateTimeout(-time.Second)
	if annotateTimeout != 0 {
		t.Fatalf("expected 0, got %v", annotateTimeout)
	}
	SetAnnotateTimeout(3 * time.Second)
	if annotateTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %v", annotateTimeout)
	}
}

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	a, ac := context.WithCancel(context.Background())
	b, bc := context.WithCancel(context.Background())
	defer bc()
	j, cancelJ := joinContexts(a, b)
	defer cancelJ()
	ac()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel when first parent canceled")
	}
}
