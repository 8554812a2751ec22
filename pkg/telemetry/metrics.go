package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for resolution and compute activity.
// A disabled Metrics value is safe to use; every Record method is a no-op.
type Metrics struct {
	config MetricsConfig

	// Resolution passes
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec

	// Compute functions
	computeCalls    *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	computeErrors   *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	registered      prometheus.Gauge

	// Errors and decisions
	errorsByCode    *prometheus.CounterVec
	policyDecisions *prometheus.CounterVec
	configReloads   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of tree resolution passes",
			},
			[]string{"scope", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of tree resolution passes in seconds",
				Buckets:   buckets,
			},
			[]string{"scope"},
		),

		computeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compute_calls_total",
				Help:      "Total number of compute function executions",
			},
			[]string{"function", "scope"},
		),
		computeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compute_duration_seconds",
				Help:      "Duration of compute function executions in seconds",
				Buckets:   buckets,
			},
			[]string{"function", "scope"},
		),
		computeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compute_errors_total",
				Help:      "Total number of failed compute function executions",
			},
			[]string{"function", "scope"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compute_cache_hits_total",
				Help:      "Total number of STARTUP results served from cache",
			},
			[]string{"function"},
		),
		registered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_functions",
				Help:      "Current number of registered compute functions",
			},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of resolution errors by error code",
			},
			[]string{"code"},
		),
		policyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Total number of access policy decisions",
			},
			[]string{"kind", "decision"},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.computeCalls,
		m.computeDuration,
		m.computeErrors,
		m.cacheHits,
		m.registered,
		m.errorsByCode,
		m.policyDecisions,
		m.configReloads,
	)

	return m, nil
}

// RecordResolution records a completed resolution pass.
func (m *Metrics) RecordResolution(scope, status string, duration time.Duration) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(scope, status).Inc()
	m.resolutionDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordComputeCall records an executed compute function.
func (m *Metrics) RecordComputeCall(function, scope string, duration time.Duration) {
	if m == nil || m.computeCalls == nil {
		return
	}
	m.computeCalls.WithLabelValues(function, scope).Inc()
	m.computeDuration.WithLabelValues(function, scope).Observe(duration.Seconds())
}

// RecordComputeError records a failed compute function.
func (m *Metrics) RecordComputeError(function, scope string) {
	if m == nil || m.computeErrors == nil {
		return
	}
	m.computeErrors.WithLabelValues(function, scope).Inc()
}

// RecordCacheHit records a STARTUP value served from cache.
func (m *Metrics) RecordCacheHit(function string) {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.WithLabelValues(function).Inc()
}

// SetRegisteredFunctions sets the registered function gauge.
func (m *Metrics) SetRegisteredFunctions(count int) {
	if m == nil || m.registered == nil {
		return
	}
	m.registered.Set(float64(count))
}

// RecordError records a resolution error by code.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// RecordPolicyDecision records an allow or deny decision for a path or function.
func (m *Metrics) RecordPolicyDecision(kind string, allowed bool) {
	if m == nil || m.policyDecisions == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.policyDecisions.WithLabelValues(kind, decision).Inc()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(err error) {
	if m == nil || m.configReloads == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// Registry exposes the underlying Prometheus registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures elapsed time for an operation.
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
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves Handler on the configured listen address in
// the background. Serve errors are sent to errCh when it is non-nil.
func (m *Metrics) StartMetricsServer(errCh chan<- error) *http.Server {
	if m == nil || !m.config.Enabled {
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && errCh != nil {
			errCh <- err
		}
	}()

	return server
}
