package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pss-server/pkg/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, path, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newMiddleware(t *testing.T, cfg *config.RateLimitConfig) *HTTPMiddleware {
	m := NewHTTPMiddleware(cfg, newTestLogger())
	t.Cleanup(m.Stop)
	return m
}

func TestHTTPMiddleware_Disabled(t *testing.T) {
	m := newMiddleware(t, &config.RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1})
	wrapped := m.Middleware(okHandler())

	for i := 0; i < 100; i++ {
		assert.Equal(t, http.StatusOK, doRequest(wrapped, "/api/goals", "192.0.2.1:1000", nil).Code)
	}
}

func TestHTTPMiddleware_RateLimitEnforced(t *testing.T) {
	m := newMiddleware(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         3,
		BlockDuration:     time.Minute,
	})
	wrapped := m.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rr := doRequest(wrapped, "/api/goals", "192.0.2.1:1000", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "0.001", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := doRequest(wrapped, "/api/goals", "192.0.2.1:1000", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["code"])

	// Other clients are unaffected.
	assert.Equal(t, http.StatusOK, doRequest(wrapped, "/api/goals", "192.0.2.2:1000", nil).Code)
}

func TestHTTPMiddleware_WhitelistedPath(t *testing.T) {
	m := newMiddleware(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		WhitelistedPaths:  []string{"/health", "/health/*"},
	})
	wrapped := m.Middleware(okHandler())

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(wrapped, "/health", "192.0.2.1:1000", nil).Code)
		assert.Equal(t, http.StatusOK, doRequest(wrapped, "/health/ready", "192.0.2.1:1000", nil).Code)
	}

	assert.Equal(t, http.StatusOK, doRequest(wrapped, "/api/goals", "192.0.2.1:1000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(wrapped, "/api/goals", "192.0.2.1:1000", nil).Code)
}

func TestHTTPMiddleware_KeysOnForwardedClient(t *testing.T) {
	m := newMiddleware(t, &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
	})
	wrapped := m.Middleware(okHandler())

	// Same proxy address, different forwarded clients.
	assert.Equal(t, http.StatusOK, doRequest(wrapped, "/api/goals", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)
	assert.Equal(t, http.StatusOK, doRequest(wrapped, "/api/goals", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "203.0.113.2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(wrapped, "/api/goals", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)
}

func TestRouteGroup(t *testing.T) {
	assert.Equal(t, "/api/sessions", routeGroup("/api/sessions/5b7e/recording"))
	assert.Equal(t, "/api/goals", routeGroup("/api/goals"))
	assert.Equal(t, "/healthz", routeGroup("/healthz"))
	assert.Equal(t, "/", routeGroup("/"))
}
