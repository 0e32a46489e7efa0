package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for command executions.
type Metrics struct {
	config MetricsConfig

	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	activeExecutions    prometheus.Gauge
	interrupts          prometheus.Counter

	blocksExecuted  *prometheus.CounterVec
	blockDuration   *prometheus.HistogramVec
	progressUpdates *prometheus.CounterVec

	itemsProcessed *prometheus.CounterVec
	itemDuration   *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When metrics are disabled every
// Record method is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
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

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of command executions started",
			},
			[]string{"command"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of command executions completed, by final state",
			},
			[]string{"command", "state"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of command executions in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),
		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of running command executions",
			},
		),
		interrupts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interrupts_total",
				Help:      "Total number of interrupted executions",
			},
		),
		blocksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_total",
				Help:      "Total number of blocks executed, by block and stream state",
			},
			[]string{"block", "state"},
		),
		progressUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "progress_updates_total",
				Help:      "Total number of progress updates sent, by block",
			},
			[]string{"block"},
		),
		blockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "block_duration_seconds",
				Help:      "Duration of command blocks in seconds",
				Buckets:   buckets,
			},
			[]string{"block"},
		),
		itemsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Total number of item runs, by block and final status",
			},
			[]string{"block", "status"},
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Duration of item runs in seconds",
				Buckets:   buckets,
			},
			[]string{"block"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of item errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of item errors by error code",
			},
			[]string{"code"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.activeExecutions,
		m.interrupts,
		m.blocksExecuted,
		m.blockDuration,
		m.progressUpdates,
		m.itemsProcessed,
		m.itemDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.policyViolations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordExecutionStarted counts a started execution.
func (m *Metrics) RecordExecutionStarted(command string) {
	if m.registry == nil {
		return
	}
	m.executionsStarted.WithLabelValues(command).Inc()
	m.activeExecutions.Inc()
}

// RecordExecutionCompleted records a finished execution.
func (m *Metrics) RecordExecutionCompleted(command, state string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(command, state).Inc()
	m.executionDuration.WithLabelValues(command).Observe(duration.Seconds())
	m.activeExecutions.Dec()
}

// RecordInterrupt counts an interrupted execution.
func (m *Metrics) RecordInterrupt() {
	if m.registry == nil {
		return
	}
	m.interrupts.Inc()
}

// RecordBlock records a finished block, its stream state and the number
// of progress updates it sent.
func (m *Metrics) RecordBlock(block, state string, duration time.Duration, updates uint64) {
	if m.registry == nil {
		return
	}
	m.blocksExecuted.WithLabelValues(block, state).Inc()
	m.blockDuration.WithLabelValues(block).Observe(duration.Seconds())
	if updates > 0 {
		m.progressUpdates.WithLabelValues(block).Add(float64(updates))
	}
}

// RecordItem records one item run. Skipped items have a zero duration and
// are not observed in the histogram.
func (m *Metrics) RecordItem(block, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.itemsProcessed.WithLabelValues(block, status).Inc()
	if duration > 0 {
		m.itemDuration.WithLabelValues(block).Observe(duration.Seconds())
	}
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.registry == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
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

// Serve exposes the metrics endpoint on the configured address until ctx
// is done. It returns immediately when metrics are disabled or no address
// is configured.
func (m *Metrics) Serve(ctx context.Context, logger *Logger) error {
	if m.registry == nil || m.config.ListenAddress == "" {
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("address", m.config.ListenAddress).Debug("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
