package correlation

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPMiddleware adds correlation ID tracking and access logging
type HTTPMiddleware struct {
	logger      *logrus.Logger
	logRequests bool
}

// NewHTTPMiddleware creates a new HTTP correlation middleware
func NewHTTPMiddleware(logger *logrus.Logger, logRequests bool) *HTTPMiddleware {
	return &HTTPMiddleware{
		logger:      logger,
		logRequests: logRequests,
	}
}

// Middleware returns an HTTP middleware function that adds correlation ID tracking
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		id := Sanitize(r.Header.Get(HTTPHeader))
		if id.IsEmpty() {
			id = Sanitize(r.Header.Get(HTTPRequestIDHeader))
		}
		if id.IsEmpty() {
			id = New()
		}
		clientIP := ClientIP(r)

		ctx := WithClientIP(WithCorrelationID(r.Context(), id), clientIP)
		r = r.WithContext(ctx)
		w.Header().Set(HTTPHeader, id.String())

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		if !m.logRequests || m.logger == nil {
			return
		}

		entry := m.logger.WithFields(logrus.Fields{
			"correlation_id": id.String(),
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         wrapper.statusCode,
			"duration_ms":    time.Since(startTime).Milliseconds(),
			"client_ip":      clientIP,
		})
		switch {
		case wrapper.statusCode >= 500:
			entry.Error("HTTP request completed with server error")
		case wrapper.statusCode >= 400:
			entry.Warn("HTTP request completed with client error")
		default:
			entry.Debug("HTTP request completed")
		}
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code
func (w *responseWrapper) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures that a write occurred
func (w *responseWrapper) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter (for http.Hijacker, etc.)
func (w *responseWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the wrapper
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.written = true
	w.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
