// Package correlation tags every API request with an ID that is echoed to the
// client and attached to log entries, so a support ticket quoting the ID can
// be traced through the logs of one request.
package correlation

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header names accepted for an inbound correlation ID, in priority order
const (
	HTTPHeader          = "X-Correlation-ID"
	HTTPRequestIDHeader = "X-Request-ID"
)

// maxIDLength bounds client supplied IDs so they cannot bloat log lines
const maxIDLength = 128

type contextKey int

const (
	correlationIDKey contextKey = iota
	clientIPKey
)

// ID represents a correlation ID
type ID string

// String returns the string representation of the correlation ID
func (id ID) String() string {
	return string(id)
}

// IsEmpty returns true if the correlation ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// New generates a new random correlation ID
func New() ID {
	return ID(uuid.NewString())
}

// Sanitize accepts a client supplied ID when it is short and printable,
// otherwise returns an empty ID.
func Sanitize(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxIDLength {
		return ""
	}
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return ID(s)
}

// WithCorrelationID returns a new context with the correlation ID attached
func WithCorrelationID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext extracts the correlation ID from a context
func FromContext(ctx context.Context) ID {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(ID); ok {
		return id
	}
	return ""
}

// WithClientIP returns a new context with the client IP attached
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext extracts the client IP from a context
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}

// ClientIP returns the originating client address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
