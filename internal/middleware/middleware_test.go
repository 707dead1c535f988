package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ipick/shop-analytics/internal/config"
	"github.com/ipick/shop-analytics/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{
		Enabled:   true,
		MasterKey: "secret",
		SkipPaths: []string{"/health"},
	}, zap.NewNop()).Handler(okHandler)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"header key", "/api/dashboard", "secret", http.StatusOK},
		{"query key", "/api/dashboard?api_key=secret", "", http.StatusOK},
		{"missing key", "/api/dashboard", "", http.StatusUnauthorized},
		{"wrong key", "/api/dashboard", "nope", http.StatusUnauthorized},
		{"skipped path", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderName, tt.header)
			}
			rec := serve(auth, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "ApiKey", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	auth := NewAuthMiddleware(config.AuthConfig{Enabled: false}, zap.NewNop()).Handler(okHandler)
	rec := serve(auth, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	m := metrics.NewMetrics("ratelimit_test", prometheus.NewRegistry())
	rl := NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}, zap.NewNop())
	rl.SetMetrics(m)
	h := rl.Handler(okHandler)

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return serve(h, req).Code
	}

	assert.Equal(t, http.StatusOK, request("198.51.100.1"))
	assert.Equal(t, http.StatusOK, request("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("198.51.100.1"))
	assert.Equal(t, http.StatusOK, request("198.51.100.2"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("/api/dashboard")))

	rl.CleanupIPLimiters()
	assert.Equal(t, http.StatusOK, request("198.51.100.1"))
}

func TestRateLimitMiddleware_ClientIP(t *testing.T) {
	rl := NewRateLimitMiddleware(config.RateLimitConfig{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	assert.Equal(t, "192.0.2.10", rl.getClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.20")
	assert.Equal(t, "192.0.2.20", rl.getClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.30, 10.0.0.1")
	assert.Equal(t, "192.0.2.30", rl.getClientIP(req))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(panicky)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal server error"}`, rec.Body.String())
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := NewRequestIDMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	incoming := "3f2b8c1e-6a4d-4f1e-9c57-0d2e8b7a1c90"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec = serve(h, req)
	assert.Equal(t, incoming, seen)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	serve(h, req)
	assert.NotEqual(t, "<script>", seen)
}

func TestLoggingMiddleware_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics("logging_test", prometheus.NewRegistry())
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := NewLoggingMiddleware(zap.NewNop(), m).Handler(notFound)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/dashboard", "404")))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	serve(Chain(okHandler, mw("a"), mw("b"), mw("c")), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
