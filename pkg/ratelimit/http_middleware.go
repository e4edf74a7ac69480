package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/config"
	"pss-server/pkg/correlation"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
)

// HTTPMiddleware applies per-client-IP rate limiting to API requests
type HTTPMiddleware struct {
	limiter          *Limiter
	config           *config.RateLimitConfig
	logger           *logrus.Logger
	whitelistedPaths map[string]bool
	prefixPaths      []string
}

// NewHTTPMiddleware creates a new HTTP rate limiting middleware
func NewHTTPMiddleware(cfg *config.RateLimitConfig, logger *logrus.Logger) *HTTPMiddleware {
	m := &HTTPMiddleware{
		limiter:          NewLimiter(cfg.RequestsPerSecond, cfg.BurstSize, logger),
		config:           cfg,
		logger:           logger,
		whitelistedPaths: make(map[string]bool),
	}

	// Entries ending in * match by prefix.
	for _, path := range cfg.WhitelistedPaths {
		path = strings.TrimSpace(path)
		switch {
		case path == "":
		case strings.HasSuffix(path, "*"):
			m.prefixPaths = append(m.prefixPaths, strings.TrimSuffix(path, "*"))
		default:
			m.whitelistedPaths[path] = true
		}
	}

	logger.WithFields(logrus.Fields{
		"enabled":           cfg.Enabled,
		"rps":               cfg.RequestsPerSecond,
		"burst":             cfg.BurstSize,
		"whitelisted_paths": len(m.whitelistedPaths) + len(m.prefixPaths),
	}).Info("HTTP rate limiting middleware initialized")

	return m
}

// Middleware returns an HTTP middleware function that applies rate limiting
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPathWhitelisted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := correlation.ClientIP(r)
		limit := strconv.FormatFloat(m.config.RequestsPerSecond, 'f', -1, 64)

		if !m.limiter.Allow(clientIP) {
			correlation.LoggerFromContext(r.Context(), m.logger).WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("Rate limit exceeded")

			metrics.RecordRateLimitRejection(routeGroup(r.URL.Path))
			if m.config.BlockDuration > 0 {
				m.limiter.Block(clientIP, m.config.BlockDuration)
			}

			retryAfter := int(m.config.BlockDuration.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			errors.WriteError(w, errors.Wrap(errors.ErrResourceExhausted, "rate limit exceeded").WithCode("RATE_LIMITED"))
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.limiter.Remaining(clientIP)))

		next.ServeHTTP(w, r)
	})
}

func (m *HTTPMiddleware) isPathWhitelisted(path string) bool {
	if m.whitelistedPaths[path] {
		return true
	}
	for _, prefix := range m.prefixPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// routeGroup keeps the first two path segments so resource IDs do not end up
// as metric labels
func routeGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

// Limiter returns the underlying limiter
func (m *HTTPMiddleware) Limiter() *Limiter {
	return m.limiter
}

// Stop releases the limiter's background cleanup
func (m *HTTPMiddleware) Stop() {
	m.limiter.Stop()
}
