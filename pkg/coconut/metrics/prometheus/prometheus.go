package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/coconut"
)

// Metrics implements coconut.Metrics using Prometheus.
type Metrics struct {
	cacheHitsTotal             *prometheus.CounterVec
	cacheMissesTotal           *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	queuePending               prometheus.Gauge
	queueActive                prometheus.Gauge
	queueWaitDuration          prometheus.Histogram
	gatewayCallsTotal          *prometheus.CounterVec
	gatewayCallDuration        *prometheus.HistogramVec
	quotaExhausted             prometheus.Gauge
	quotaFlipsTotal            *prometheus.CounterVec
	transitionsTotal           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

var _ coconut.Metrics = (*Metrics)(nil)

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of asset cache hits.",
		}, []string{"namespace", "tier"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of asset cache misses.",
		}, []string{"namespace"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		queuePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_pending",
			Help:      "Number of AI tasks waiting in the scheduler queue.",
		}),

		queueActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_active",
			Help:      "Number of AI tasks currently running.",
		}),

		queueWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_wait_duration_seconds",
			Help:      "Time AI tasks spent queued before starting.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 3, 10, 30, 60},
		}),

		gatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Total number of AI provider calls by outcome.",
		}, []string{"operation", "outcome"}),

		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of AI provider calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),

		quotaExhausted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_exhausted",
			Help:      "1 while the AI provider quota is marked exhausted.",
		}),

		quotaFlipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_state_changes_total",
			Help:      "Total number of quota tracker flips.",
		}, []string{"exhausted"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_transitions_total",
			Help:      "Total number of enrichment controller state transitions.",
		}, []string{"from", "to"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordCacheHit(namespace, tier string) {
	m.cacheHitsTotal.WithLabelValues(namespace, tier).Inc()
}

func (m *Metrics) RecordCacheMiss(namespace string) {
	m.cacheMissesTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordQueueDepth(pending, active int) {
	m.queuePending.Set(float64(pending))
	m.queueActive.Set(float64(active))
}

func (m *Metrics) RecordQueueWait(duration time.Duration) {
	m.queueWaitDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordGatewayCall(operation, outcome string, duration time.Duration) {
	m.gatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	if duration > 0 {
		m.gatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordQuotaState(exhausted bool) {
	if exhausted {
		m.quotaExhausted.Set(1)
		m.quotaFlipsTotal.WithLabelValues("true").Inc()
		return
	}
	m.quotaExhausted.Set(0)
	m.quotaFlipsTotal.WithLabelValues("false").Inc()
}

func (m *Metrics) RecordTransition(from, to coconut.Status) {
	m.transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}
