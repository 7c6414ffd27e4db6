package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for kiln.
// Using promauto for automatic registration with default registry.
var (
	// --- Execution Metrics ---

	// ExecutionsTotal counts completed executions by outcome source.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of process executions by source and status",
		},
		[]string{"source", "status"},
	)

	// ExecutionDuration tracks process wall time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kiln",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Wall time of process executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~11m
		},
		[]string{"source"},
	)

	// ExecutionsRunning tracks processes currently executing.
	ExecutionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "executions",
			Name:      "running",
			Help:      "Number of processes currently executing",
		},
	)

	// --- Memoization Metrics ---

	// MemoHits counts requests that attached to an existing node.
	MemoHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "memo",
			Name:      "hits_total",
			Help:      "Requests that reused an in-flight or completed node",
		},
	)

	// MemoMisses counts requests that started a new node.
	MemoMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "memo",
			Name:      "misses_total",
			Help:      "Requests that started a new execution node",
		},
	)

	// MemoInFlight tracks nodes currently running.
	MemoInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiln",
			Subsystem: "memo",
			Name:      "in_flight",
			Help:      "Execution nodes currently running",
		},
	)

	// --- Content Store Metrics ---

	// StoreReadBytes counts bytes loaded from the content store.
	StoreReadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "store",
			Name:      "read_bytes_total",
			Help:      "Total bytes loaded from the content store",
		},
	)

	// StoreWriteBytes counts bytes written to the content store.
	StoreWriteBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "store",
			Name:      "write_bytes_total",
			Help:      "Total bytes written to the content store",
		},
	)

	// BlobsEvicted counts blobs removed by the janitor.
	BlobsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "store",
			Name:      "blobs_evicted_total",
			Help:      "Blobs evicted from the local store by the janitor",
		},
	)

	// --- Action Cache Metrics ---

	// ActionCacheHits counts action cache hits.
	ActionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "action_cache",
			Name:      "hits_total",
			Help:      "Action cache lookups that produced a reusable outcome",
		},
	)

	// ActionCacheMisses counts action cache misses.
	ActionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiln",
			Subsystem: "action_cache",
			Name:      "misses_total",
			Help:      "Action cache lookups that fell through to execution",
		},
	)
)

// RecordExecution records the outcome of a single execution.
func RecordExecution(source string, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(source, status).Inc()
	ExecutionDuration.WithLabelValues(source).Observe(durationSeconds)
}
