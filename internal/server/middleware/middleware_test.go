package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/metrics"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing", "/api/pools", nil, http.StatusUnauthorized},
		{"wrong", "/api/pools", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/pools", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
		{"header", "/api/pools", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"public", "/api/health", nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}

	assert.Equal(t, http.StatusNoContent, serve(Auth("")(ok), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{owner}/{order_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Logging(discard(), m)(mux)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/positions/alice/1", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/api/positions/bob/2", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/positions/{owner}/{order_id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(NewLocalLimiter(), 2, time.Minute, discard())(ok)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return r
	}
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.1.1.1")).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.1.1.1")).Code)
	rec := serve(h, req("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, serve(h, req("2.2.2.2")).Code)

	failOpen := RateLimit(errLimiter{}, 1, time.Minute, discard())(ok)
	assert.Equal(t, http.StatusNoContent, serve(failOpen, req("3.3.3.3")).Code)
}

func TestLocalLimiterRejectsZeroLimit(t *testing.T) {
	allowed, err := NewLocalLimiter().Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)
}
