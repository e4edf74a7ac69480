package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"pss-server/pkg/config"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
	"pss-server/pkg/service"
	"pss-server/pkg/version"

	"github.com/sirupsen/logrus"
)

// Middleware wraps a handler, e.g. rate limiting or request correlation
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ConnectionChecker reports the state of a long-lived broker connection
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies are the services the API exposes. Broker and Events may be
// nil when messaging or the event stream are disabled.
type Dependencies struct {
	Sessions *service.SessionService
	Goals    *service.GoalService
	Database HealthChecker
	Broker   ConnectionChecker
	Events   *EventHub
}

// Server is the JSON API server
type Server struct {
	config     *config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time

	sessions *service.SessionService
	goals    *service.GoalService
	database HealthChecker
	broker   ConnectionChecker
	events   *EventHub

	authMiddleware        Middleware
	rateLimitMiddleware   Middleware
	correlationMiddleware Middleware
}

// NewServer creates the API server and registers all routes
func NewServer(logger *logrus.Logger, cfg *config.HTTPConfig, deps Dependencies) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		sessions:  deps.Sessions,
		goals:     deps.Goals,
		database:  deps.Database,
		broker:    deps.Broker,
		events:    deps.Events,
	}

	server.routes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

func (s *Server) routes() {
	s.handle("GET /health", s.HealthHandler)
	s.handle("GET /health/live", s.LivenessHandler)
	s.handle("GET /health/ready", s.ReadinessHandler)

	if s.config.EnableMetrics {
		metrics.RegisterHandler(s.mux)
	}

	s.handle("POST /api/sessions", s.createSession)
	s.handle("GET /api/sessions", s.listSessions)
	s.handle("GET /api/sessions/{id}", s.getSession)
	s.handle("POST /api/sessions/{id}/recording", s.uploadRecording)
	s.handle("PUT /api/sessions/{id}/speakers", s.confirmSpeakers)
	s.handle("GET /api/sessions/{id}/transcript", s.getTranscript)
	s.handle("POST /api/transcripts/analyze", s.analyzeTranscript)

	s.handle("POST /api/goals", s.createGoal)
	s.handle("GET /api/goals", s.listGoals)
	s.handle("GET /api/goals/{id}", s.getGoal)
	s.handle("POST /api/goals/{id}/plan", s.applyPlan)
	s.handle("GET /api/goals/{id}/milestones", s.listMilestones)
	s.handle("POST /api/goals/{id}/milestones", s.addMilestone)
	s.handle("POST /api/goals/{id}/milestones/{mid}/toggle", s.toggleMilestone)
	s.handle("PATCH /api/goals/{id}/milestones/{mid}", s.updateMilestone)
	s.handle("DELETE /api/goals/{id}/milestones/{mid}", s.removeMilestone)

	if s.events != nil {
		s.handle("GET /ws/events", s.events.ServeWs)
	}
}

// handle registers a route that reports the Server header and per-route
// request metrics. Routes are labelled by pattern, not by raw path, to keep
// metric cardinality bounded.
func (s *Server) handle(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Server", version.ServerHeader())

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)

		metrics.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))
	})
}

// SetAuthMiddleware sets the authentication middleware for the server.
func (s *Server) SetAuthMiddleware(middleware Middleware) {
	s.authMiddleware = middleware
	s.httpServer.Handler = s.Handler()
}

// SetRateLimitMiddleware sets the rate limiting middleware for the server.
func (s *Server) SetRateLimitMiddleware(middleware Middleware) {
	s.rateLimitMiddleware = middleware
	s.httpServer.Handler = s.Handler()
	s.logger.Info("Rate limiting middleware configured")
}

// SetCorrelationMiddleware sets the correlation ID middleware for request tracking.
func (s *Server) SetCorrelationMiddleware(middleware Middleware) {
	s.correlationMiddleware = middleware
	s.httpServer.Handler = s.Handler()
	s.logger.Info("Correlation ID middleware configured")
}

// Handler returns the routes wrapped in the configured middleware chain.
// Correlation runs first so rejections by the rate limiter or the
// authenticator are logged with an ID.
func (s *Server) Handler() http.Handler {
	handler := http.Handler(s.mux)
	if s.authMiddleware != nil {
		handler = s.authMiddleware.Middleware(handler)
	}
	if s.rateLimitMiddleware != nil {
		handler = s.rateLimitMiddleware.Middleware(handler)
	}
	if s.correlationMiddleware != nil {
		handler = s.correlationMiddleware.Middleware(handler)
	}
	return handler
}

// Start starts the HTTP server in a goroutine. Listener failures are sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.logger.WithFields(logrus.Fields{
		"port": s.config.Port,
		"tls":  s.config.TLSEnabled,
	}).Info("Starting HTTP server")

	go func() {
		var err error
		if s.config.TLSEnabled {
			s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusFromError(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("HTTP error response sent")
	} else {
		entry.Debug("HTTP error response sent")
	}
	errors.WriteError(w, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the event stream upgrade through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
