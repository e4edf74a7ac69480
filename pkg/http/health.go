package http

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"pss-server/pkg/errors"
	"pss-server/pkg/version"

	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 2 * time.Second

var errNoDatabase = errors.Wrap(errors.ErrUnavailable, "database not configured")

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains process resource information
type SystemInfo struct {
	GoRoutines    int    `json:"goroutines"`
	MemoryMB      uint64 `json:"memory_mb"`
	CPUCount      int    `json:"cpu_count"`
	StreamClients int    `json:"stream_clients"`
}

// HealthHandler reports the state of every dependency. The database is
// required; the broker and the event stream only degrade the service.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if err := s.checkDatabase(r.Context()); err != nil {
		health.Checks["database"] = CheckResult{Status: "unhealthy", Message: err.Error()}
		health.Status = "unhealthy"
	} else {
		health.Checks["database"] = CheckResult{Status: "healthy", Message: "Database operational"}
	}

	if s.broker != nil {
		if s.broker.IsConnected() {
			health.Checks["amqp"] = CheckResult{Status: "healthy", Message: "AMQP connected"}
		} else {
			health.Checks["amqp"] = CheckResult{Status: "degraded", Message: "AMQP disconnected"}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	if s.events != nil {
		health.Checks["event_stream"] = CheckResult{Status: "healthy", Message: "Event hub running"}
		health.System.StreamClients = s.events.ClientCount()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	if r.URL.Query().Get("detailed") == "true" {
		s.logger.WithFields(logrus.Fields{
			"status":   health.Status,
			"checks":   health.Checks,
			"system":   health.System,
			"duration": time.Since(startTime),
		}).Debug("Health check performed")
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe. The service is ready
// once the database answers.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.checkDatabase(r.Context()); err != nil {
		s.logger.WithError(err).Warn("Readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) checkDatabase(ctx context.Context) error {
	if s.database == nil {
		return errNoDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return s.database.Health(ctx)
}
