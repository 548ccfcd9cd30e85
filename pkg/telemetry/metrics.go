package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for project generation. A zero-value
// construction with Enabled=false yields a no-op collector, so callers never
// guard their recording sites.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	commandRetries prometheus.Counter
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

// MetricsConfig controls metric collection and exposure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	Path          string `json:"path" yaml:"path"`
}

// NewMetrics creates a metrics collector. When cfg.Enabled is false all
// recording methods are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}

	const namespace = "architech"
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		sessionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of generation sessions started",
			},
		),
		sessionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of generation sessions reaching a terminal status",
			},
			[]string{"status"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Wall-clock duration of generation sessions",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of individual task execution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		commandRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_retries_total",
				Help:      "Total number of command retry attempts",
			},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of in-flight generation sessions",
			},
		),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.commandRetries,
		m.activeSessions,
	)

	return m
}

// RecordSessionStarted increments the started counter and the active gauge.
func (m *Metrics) RecordSessionStarted() {
	if m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

// RecordSessionCompleted records a session reaching a terminal status.
func (m *Metrics) RecordSessionCompleted(status string, duration time.Duration) {
	if m.sessionsCompleted == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeSessions.Dec()
}

// RecordTaskExecuted records a task reaching a terminal state.
func (m *Metrics) RecordTaskExecuted(status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCommandRetry counts one retry attempt.
func (m *Metrics) RecordCommandRetry() {
	if m.commandRetries == nil {
		return
	}
	m.commandRetries.Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve starts an HTTP server exposing metrics at cfg.Path. It returns
// immediately; server errors are reported through errFn.
func (m *Metrics) Serve(cfg MetricsConfig, errFn func(error)) {
	if m.registry == nil {
		return
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && errFn != nil {
			errFn(err)
		}
	}()
}
