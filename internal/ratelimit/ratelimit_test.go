package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newLimiter(t *testing.T, cfg config.RateLimitConfig, trusted []string) (*Limiter, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	l := New(cfg, trusted, m, slog.Default())
	t.Cleanup(l.Stop)
	return l, m
}

func do(h http.Handler, path, remote, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}, nil)
	h := l.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(h, "/user/me", "10.0.0.1:12345", "").Code, "request %d", i)
	}
}

func TestLimiter_BlocksAfterBurst(t *testing.T) {
	l, m := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, nil)
	h := l.Middleware()(okHandler())

	do(h, "/user/me", "10.0.0.2:12345", "")
	do(h, "/user/me", "10.0.0.2:12345", "")
	rec := do(h, "/user/me", "10.0.0.2:12345", "")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusTooManyRequests, body.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("http_error", "api-gateway", "429")))
}

func TestLimiter_PerClientIsolation(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	h := l.Middleware()(okHandler())

	do(h, "/x", "10.0.0.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/x", "10.0.0.1:12345", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "/x", "10.0.0.2:12345", "").Code)
}

func TestLimiter_XForwardedFor_NoTrustedProxies(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "/x", "10.0.0.50:8080", "192.168.1.100").Code)
	// XFF is ignored without trusted proxies, so the peer is limited.
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/x", "10.0.0.50:8080", "192.168.1.200").Code)
}

func TestLimiter_XForwardedFor_TrustedProxy(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, []string{"10.0.0.0/8"})
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "/x", "10.0.0.1:8080", "203.0.113.50").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/x", "10.0.0.1:8080", "203.0.113.50").Code)
	assert.Equal(t, http.StatusOK, do(h, "/x", "10.0.0.1:8080", "203.0.113.51").Code)
}

func TestLimiter_XForwardedFor_UntrustedPeer(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, []string{"10.0.0.0/8"})
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "/x", "203.0.113.99:12345", "1.2.3.4").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/x", "203.0.113.99:12345", "5.6.7.8").Code)
}

func TestLimiter_PrefixOverride(t *testing.T) {
	l, m := newLimiter(t, config.RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         100,
		Overrides: []config.RateOverride{
			{PathPrefix: "/auth", RequestsPerSecond: 1, BurstSize: 1},
		},
	}, nil)
	h := l.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, do(h, "/auth/signin", "10.0.0.5:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/auth/signin", "10.0.0.5:1", "").Code)
	assert.Equal(t, http.StatusOK, do(h, "/authors", "10.0.0.5:1", "").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("/auth")))
}

func TestLimiter_UpdateConfig(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil)
	h := l.Middleware()(okHandler())

	do(h, "/x", "10.0.0.7:1", "")
	require.Equal(t, http.StatusTooManyRequests, do(h, "/x", "10.0.0.7:1", "").Code)

	l.UpdateConfig(config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 10})
	assert.Equal(t, http.StatusOK, do(h, "/x", "10.0.0.7:1", "").Code)
}

func TestLimiter_Snapshot(t *testing.T) {
	l, _ := newLimiter(t, config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}, nil)
	h := l.Middleware()(okHandler())

	do(h, "/x", "10.0.0.9:1", "")
	do(h, "/x", "10.0.0.9:1", "")
	do(h, "/x", "10.0.0.3:1", "")

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "10.0.0.3", snap[0].IP)
	assert.Equal(t, "10.0.0.9", snap[1].IP)
	assert.Equal(t, 5, snap[1].Burst)
	assert.Equal(t, 10.0, snap[1].Rate)
	assert.InDelta(t, 3.0, snap[1].Tokens, 0.5)
}

func TestLimiter_StopReleasesGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, nil, metrics.NewMetrics(prometheus.NewRegistry()), slog.Default())
	l.Stop()
	l.Stop()
}

func TestMatchesPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/auth/signin", "/auth", true},
		{"/auth", "/auth", true},
		{"/admin/", "/admin/", true},
		{"/admin/ban", "/admin/", true},
		{"/auth.evil.com/steal", "/auth", false},
		{"/authors", "/auth", false},
		{"/other", "/auth", false},
		{"/anything", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_vs_"+tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPrefix(tt.path, tt.prefix))
		})
	}
}
