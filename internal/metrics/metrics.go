// Package metrics provides Prometheus metrics for mirrorkv
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mirrorkv
type Metrics struct {
	// Store operation metrics
	OpsTotal   *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec
	SyncErrors prometheus.Counter

	// Flush metrics
	FlushTotal    *prometheus.CounterVec
	FlushDuration prometheus.Histogram
	PendingKeys   *prometheus.GaugeVec

	// Recovery metrics
	RecoveredEntries prometheus.Counter
	RecoveryDuration prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics set. Collectors register with the
// default Prometheus registry exactly once, however many stores are opened.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.OpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorkv_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "outcome"},
	)

	m.OpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirrorkv_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.SyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirrorkv_sync_errors_total",
			Help: "Total number of failed disk sync attempts",
		},
	)

	m.FlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirrorkv_flushes_total",
			Help: "Total number of flush invocations",
		},
		[]string{"status"},
	)

	m.FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirrorkv_flush_duration_seconds",
			Help:    "Duration of flush operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.PendingKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirrorkv_pending_keys",
			Help: "Number of keys awaiting a disk sync, per store",
		},
		[]string{"store_id"},
	)

	m.RecoveredEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirrorkv_recovered_entries_total",
			Help: "Total number of entries rebuilt from disk at startup",
		},
	)

	m.RecoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirrorkv_recovery_duration_seconds",
			Help:    "Duration of startup recovery in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	return m
}

// RecordOp records a store operation with its outcome
func (m *Metrics) RecordOp(operation, outcome string, duration time.Duration) {
	m.OpsTotal.WithLabelValues(operation, outcome).Inc()
	m.OpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFlush records a flush invocation
func (m *Metrics) RecordFlush(status string, duration time.Duration) {
	m.FlushTotal.WithLabelValues(status).Inc()
	m.FlushDuration.Observe(duration.Seconds())
}

// SetPending updates the pending-keys gauge for a store
func (m *Metrics) SetPending(storeID string, n int) {
	m.PendingKeys.WithLabelValues(storeID).Set(float64(n))
}

// RecordRecovery records a completed startup recovery pass
func (m *Metrics) RecordRecovery(entries int, duration time.Duration) {
	m.RecoveredEntries.Add(float64(entries))
	m.RecoveryDuration.Observe(duration.Seconds())
}
