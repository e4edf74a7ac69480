package correlation

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pss-server/pkg/auth"
)

func TestNew_GeneratesUniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, id.IsEmpty(), "Generated ID should not be empty")
		assert.False(t, ids[id.String()], "Generated ID should be unique")
		ids[id.String()] = true
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, ID("abc-123"), Sanitize(" abc-123 "))
	assert.True(t, Sanitize("").IsEmpty())
	assert.True(t, Sanitize("has space").IsEmpty())
	assert.True(t, Sanitize("line\nbreak").IsEmpty())
	assert.True(t, Sanitize(strings.Repeat("a", maxIDLength+1)).IsEmpty())
}

func TestFromContext(t *testing.T) {
	assert.True(t, FromContext(nil).IsEmpty())
	assert.True(t, FromContext(context.Background()).IsEmpty())

	ctx := WithCorrelationID(context.Background(), "req-1")
	assert.Equal(t, ID("req-1"), FromContext(ctx))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}

func TestHTTPMiddleware_GeneratesCorrelationID(t *testing.T) {
	var seen ID
	handler := NewHTTPMiddleware(logrus.New(), false).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		assert.Equal(t, "192.0.2.1", ClientIPFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/goals", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.False(t, seen.IsEmpty())
	assert.Equal(t, seen.String(), rec.Header().Get(HTTPHeader))
}

func TestHTTPMiddleware_UsesExistingCorrelationID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"correlation header", HTTPHeader},
		{"request id header", HTTPRequestIDHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen ID
			handler := NewHTTPMiddleware(logrus.New(), false).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tt.header, "client-id-42")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, ID("client-id-42"), seen)
			assert.Equal(t, "client-id-42", rec.Header().Get(HTTPHeader))
		})
	}
}

func TestHTTPMiddleware_LogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	handler := NewHTTPMiddleware(logger, true).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/goals/missing", nil)
	req.Header.Set(HTTPHeader, "trace-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"correlation_id":"trace-me"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, "client error")
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithClientIP(WithCorrelationID(context.Background(), "abc"), "192.0.2.3")
	entry := LoggerFromContext(ctx, logrus.New())
	assert.Equal(t, "abc", entry.Data["correlation_id"])
	assert.Equal(t, "192.0.2.3", entry.Data["client_ip"])

	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_IncludesTenant(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), ID("req-7"))
	ctx = auth.WithUser(ctx, &auth.UserInfo{UserID: "user-1", OrgID: "org-a"})

	fields := ContextFields(ctx)
	assert.Equal(t, "req-7", fields["correlation_id"])
	assert.Equal(t, "org-a", fields["org_id"])
	assert.Equal(t, "user-1", fields["user_id"])
}
