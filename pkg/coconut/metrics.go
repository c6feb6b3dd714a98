package coconut

import "time"

// Metrics defines the interface for tracking enrichment, scheduling and cache behaviour.
type Metrics interface {
	// RecordCacheHit records a cache hit for a namespace ("image", "meta") and tier ("memory", "storage").
	RecordCacheHit(namespace, tier string)

	// RecordCacheMiss records a cache miss for a namespace.
	RecordCacheMiss(namespace string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordQueueDepth records the number of pending and active scheduler items.
	RecordQueueDepth(pending, active int)

	// RecordQueueWait records how long an item waited between enqueue and start.
	RecordQueueWait(duration time.Duration)

	// RecordGatewayCall records one provider call by operation and outcome ("ok", "quota", "error").
	RecordGatewayCall(operation, outcome string, duration time.Duration)

	// RecordQuotaState records a quota tracker flip.
	RecordQuotaState(exhausted bool)

	// RecordTransition records a controller state transition.
	RecordTransition(from, to Status)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCacheHit(namespace, tier string)                                    {}
func (n *NoopMetrics) RecordCacheMiss(namespace string)                                         {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordQueueDepth(pending, active int)                                     {}
func (n *NoopMetrics) RecordQueueWait(duration time.Duration)                                   {}
func (n *NoopMetrics) RecordGatewayCall(operation, outcome string, duration time.Duration)      {}
func (n *NoopMetrics) RecordQuotaState(exhausted bool)                                          {}
func (n *NoopMetrics) RecordTransition(from, to Status)                                         {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                             {}
