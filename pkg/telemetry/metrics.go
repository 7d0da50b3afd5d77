package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the upgrade workflow.
type Metrics struct {
	config MetricsConfig

	// Workflow metrics
	workflowsCompleted *prometheus.CounterVec

	// Stage metrics
	stagesCompleted *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	activeStage     *prometheus.GaugeVec

	// Retry loop metrics
	attempts *prometheus.CounterVec
	logins   *prometheus.CounterVec

	// Comparison metrics
	newFaults *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of upgrade workflows completed",
			},
			[]string{"outcome"},
		),

		stagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of workflow stages resolved",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of workflow stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		activeStage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_active",
				Help:      "1 while the stage is running",
			},
			[]string{"stage"},
		),

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_attempts_total",
				Help:      "Total number of retry loop evaluations",
			},
			[]string{"operation", "outcome", "error_class"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Total number of controller login attempts",
			},
			[]string{"result"},
		),

		newFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_faults_total",
				Help:      "New faults found by post-change comparison",
			},
			[]string{"severity"},
		),
	}

	registry.MustRegister(
		m.workflowsCompleted,
		m.stagesCompleted,
		m.stageDuration,
		m.activeStage,
		m.attempts,
		m.logins,
		m.newFaults,
	)

	return m, nil
}

// RecordWorkflowCompleted counts a finished workflow.
func (m *Metrics) RecordWorkflowCompleted(outcome string) {
	if m.workflowsCompleted == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(outcome).Inc()
}

// RecordStageStarted marks a stage as running.
func (m *Metrics) RecordStageStarted(stage string) {
	if m.activeStage == nil {
		return
	}
	m.activeStage.WithLabelValues(stage).Set(1)
}

// RecordStageCompleted records a resolved stage with its outcome and duration.
func (m *Metrics) RecordStageCompleted(stage, outcome string, duration time.Duration) {
	if m.stagesCompleted == nil {
		return
	}
	m.activeStage.WithLabelValues(stage).Set(0)
	m.stagesCompleted.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordAttempt records one retry loop evaluation.
func (m *Metrics) RecordAttempt(operation, outcome, errClass string) {
	if m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(operation, outcome, errClass).Inc()
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	if m.logins == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// RecordNewFaults adds n new faults of the given severity.
func (m *Metrics) RecordNewFaults(severity string, n int) {
	if m.newFaults == nil || n <= 0 {
		return
	}
	m.newFaults.WithLabelValues(severity).Add(float64(n))
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil
// when metrics are disabled or no listen address is configured. Serve
// errors are passed to onError.
func (m *Metrics) StartMetricsServer(onError func(error)) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return server
}
