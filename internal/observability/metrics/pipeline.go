package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains the Prometheus metrics shared by the ingest, sync
// and reindex commands. Every series carries the component and provider that
// produced it; Scope returns a Recorder bound to one pair.
type PipelineMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	recordsTotal      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imageledger_operations_total",
		Help: "Total number of pipeline operations by outcome.",
	}, []string{"component", "provider", "operation", "status"})

	m.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imageledger_records_total",
		Help: "Total number of records handled by outcome.",
	}, []string{"component", "provider", "operation", "status"})

	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imageledger_operation_duration_seconds",
		Help:    "Duration of pipeline operations in seconds.",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	}, []string{"component", "provider", "operation"})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imageledger_errors_total",
		Help: "Total number of pipeline errors by category.",
	}, []string{"component", "provider", "operation", "error_type"})

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.recordsTotal,
		m.operationDuration,
		m.errorsTotal,
	}
}

// Scope returns a Recorder that labels everything with component and
// provider. provider may be empty for commands that span all providers.
func (m *PipelineMetrics) Scope(component, provider string) Recorder {
	labels := prometheus.Labels{"component": component, "provider": provider}
	return &scopedRecorder{
		operations: m.operationsTotal.MustCurryWith(labels),
		records:    m.recordsTotal.MustCurryWith(labels),
		durations:  m.operationDuration.MustCurryWith(labels),
		errors:     m.errorsTotal.MustCurryWith(labels),
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

type scopedRecorder struct {
	operations *prometheus.CounterVec
	records    *prometheus.CounterVec
	durations  prometheus.ObserverVec
	errors     *prometheus.CounterVec
}

func (r *scopedRecorder) RecordOperation(operation, status string) {
	r.operations.WithLabelValues(operation, status).Inc()
}

func (r *scopedRecorder) AddRecords(operation, status string, n int) {
	if n <= 0 {
		return
	}
	r.records.WithLabelValues(operation, status).Add(float64(n))
}

func (r *scopedRecorder) RecordDuration(operation string, seconds float64) {
	r.durations.WithLabelValues(operation).Observe(seconds)
}

func (r *scopedRecorder) RecordError(operation, errorType string) {
	r.errors.WithLabelValues(operation, errorType).Inc()
}
