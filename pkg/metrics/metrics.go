package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = false

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec

	// Transcription metrics
	STTRequestsTotal *prometheus.CounterVec
	STTLatency       *prometheus.HistogramVec
	STTJobsInFlight  prometheus.Gauge
	DiarizedSpeakers prometheus.Histogram

	// Goal metrics
	PlannerRequestsTotal *prometheus.CounterVec
	PlannerLatency       prometheus.Histogram
	MilestoneMutations   *prometheus.CounterVec
	GoalProgress         prometheus.Histogram

	// Infrastructure metrics
	StorageOperations     *prometheus.CounterVec
	DBQueryDuration       *prometheus.HistogramVec
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
	WebsocketClients      prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
)

// Init initializes all metrics and registers them with a private registry
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		HTTPRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		)

		HTTPRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pss_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		RateLimitRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		)

		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_stt_requests_total",
				Help: "Total number of speech-to-text calls",
			},
			[]string{"operation", "status"},
		)

		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pss_stt_latency_seconds",
				Help:    "Latency of speech-to-text calls, including polling",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
			[]string{"operation"},
		)

		STTJobsInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pss_stt_jobs_in_flight",
				Help: "Transcription jobs currently awaiting completion",
			},
		)

		DiarizedSpeakers = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pss_diarized_speakers",
				Help:    "Number of distinct speakers per diarized transcript",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
			},
		)

		PlannerRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_planner_requests_total",
				Help: "Total number of plan generation calls",
			},
			[]string{"status"},
		)

		PlannerLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pss_planner_latency_seconds",
				Help:    "Latency of plan generation calls",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		)

		MilestoneMutations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_milestone_mutations_total",
				Help: "Milestone changes by operation",
			},
			[]string{"operation"},
		)

		GoalProgress = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pss_goal_progress_percent",
				Help:    "Goal progress observed after each milestone change",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		)

		StorageOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_storage_operations_total",
				Help: "Object storage operations",
			},
			[]string{"operation", "status"},
		)

		DBQueryDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pss_db_query_duration_seconds",
				Help:    "Repository query latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"operation"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pss_amqp_published_messages_total",
				Help: "Domain events published to AMQP",
			},
			[]string{"routing_key", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pss_amqp_connection_status",
				Help: "AMQP connection status (1 = connected)",
			},
		)

		WebsocketClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pss_websocket_clients",
				Help: "Connected event stream clients",
			},
		)

		CircuitBreakerState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pss_circuit_breaker_state",
				Help: "Upstream circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
			},
			[]string{"upstream"},
		)

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

			HTTPRequestsTotal,
			HTTPRequestDuration,
			RateLimitRejections,

			STTRequestsTotal,
			STTLatency,
			STTJobsInFlight,
			DiarizedSpeakers,

			PlannerRequestsTotal,
			PlannerLatency,
			MilestoneMutations,
			GoalProgress,

			StorageOperations,
			DBQueryDuration,
			AMQPPublishedMessages,
			AMQPConnectionStatus,
			WebsocketClients,
			CircuitBreakerState,
		)

		metricsEnabled = true
		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// SetMetricsEnabled enables or disables metrics collection. Collection stays
// off until Init has run.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled = enabled && registry != nil
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if !metricsEnabled {
		return
	}
	handler := promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	)
	mux.Handle("GET "+defaultMetricsPath, handler)
}

// StartMetrics initializes metrics unless disabled by configuration
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		SetMetricsEnabled(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	SetMetricsEnabled(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// RecordHTTPRequest records a completed API request
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if metricsEnabled {
		HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// RecordRateLimitRejection records a request refused by the rate limiter
func RecordRateLimitRejection(route string) {
	if metricsEnabled {
		RateLimitRejections.WithLabelValues(route).Inc()
	}
}

// RecordSTTRequest records metrics for an STT call
func RecordSTTRequest(operation, status string) {
	if metricsEnabled {
		STTRequestsTotal.WithLabelValues(operation, status).Inc()
	}
}

// ObserveSTTLatency records STT latency with a timer function
func ObserveSTTLatency(operation string) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	STTJobsInFlight.Inc()
	return func() {
		STTJobsInFlight.Dec()
		STTLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordDiarizedSpeakers records how many speakers a transcript contained
func RecordDiarizedSpeakers(count int) {
	if metricsEnabled {
		DiarizedSpeakers.Observe(float64(count))
	}
}

// RecordPlannerRequest records a plan generation call
func RecordPlannerRequest(status string, duration time.Duration) {
	if metricsEnabled {
		PlannerRequestsTotal.WithLabelValues(status).Inc()
		PlannerLatency.Observe(duration.Seconds())
	}
}

// RecordMilestoneMutation records a milestone change and the resulting progress
func RecordMilestoneMutation(operation string, progress int) {
	if metricsEnabled {
		MilestoneMutations.WithLabelValues(operation).Inc()
		GoalProgress.Observe(float64(progress))
	}
}

// RecordStorageOperation records an object storage call
func RecordStorageOperation(operation string, err error) {
	if metricsEnabled {
		StorageOperations.WithLabelValues(operation, statusLabel(err)).Inc()
	}
}

// ObserveDBQuery records repository query latency with a timer function
func ObserveDBQuery(operation string) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(routingKey, status string) {
	if metricsEnabled {
		AMQPPublishedMessages.WithLabelValues(routingKey, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if metricsEnabled {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

// WebsocketConnected tracks an event stream client and returns the matching
// disconnect callback
func WebsocketConnected() func() {
	if !metricsEnabled {
		return func() {}
	}

	WebsocketClients.Inc()
	return func() {
		WebsocketClients.Dec()
	}
}

// SetCircuitBreakerState records the state of an upstream circuit breaker
func SetCircuitBreakerState(upstream string, state int) {
	if metricsEnabled {
		CircuitBreakerState.WithLabelValues(upstream).Set(float64(state))
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
