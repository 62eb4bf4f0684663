package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store operation metrics
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idbkv_operations_total",
		Help: "The total number of store operations",
	}, []string{"operation", "status"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idbkv_operation_duration_seconds",
		Help:    "Duration of store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	StoredKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "idbkv_keys",
		Help: "Number of keys seen by the last key listing",
	})

	// Snapshot / restore metrics
	SnapshotOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idbkv_snapshot_operations_total",
		Help: "The total number of snapshot operations",
	}, []string{"phase", "status"})

	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "idbkv_snapshot_duration_seconds",
		Help:    "Duration of snapshot creation (seconds)",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "idbkv_snapshot_size_bytes",
		Help:    "Size of snapshots in bytes",
		Buckets: prometheus.ExponentialBuckets(256, 2, 10),
	})

	SnapshotRestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "idbkv_snapshot_restore_duration_seconds",
		Help:    "Duration to restore a snapshot (seconds)",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idbkv_snapshot_errors_total",
		Help: "The total number of errors encountered during snapshot or restore",
	}, []string{"phase"})
)

// ObserveOperation records the outcome and duration of one store operation.
func ObserveOperation(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Operations.WithLabelValues(op, status).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SnapshotFailed counts a failed snapshot phase.
func SnapshotFailed(phase string) {
	SnapshotErrors.WithLabelValues(phase).Inc()
	SnapshotOperations.WithLabelValues(phase, "failed").Inc()
}
