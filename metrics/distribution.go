package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DistributionMetrics holds the Prometheus metrics of the distribution engine.
// A nil *DistributionMetrics is valid and records nothing.
type DistributionMetrics struct {
	Attempts          *prometheus.CounterVec   // <ns>_offer_attempts_total{offer,outcome}
	Operations        *prometheus.CounterVec   // <ns>_operations_total{operation,outcome}
	OperationDuration *prometheus.HistogramVec // <ns>_operation_duration_seconds{operation}
	Rollbacks         *prometheus.CounterVec   // <ns>_rollbacks_total{offer}
	BytesStored       prometheus.Counter       // <ns>_bytes_stored_total
	InflightTransfers prometheus.Gauge         // <ns>_inflight_transfers
}

// NewDistributionMetrics registers the distribution metrics on registry.
func NewDistributionMetrics(namespace string, registry prometheus.Registerer) *DistributionMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &DistributionMetrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_attempts_total",
			Help:      "Transfer attempts per offer and outcome",
		}, []string{"offer", "outcome"}),

		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Distribution operations by type and outcome",
		}, []string{"operation", "outcome"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Distribution operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		Rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Copies removed by store rollbacks per offer",
		}, []string{"offer"}),

		BytesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_stored_total",
			Help:      "Bytes of successfully stored objects, counted once per object",
		}),

		InflightTransfers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_transfers",
			Help:      "Transfer tasks currently running",
		}),
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "ko"
}

func (m *DistributionMetrics) ObserveAttempt(offerID string, ok bool) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(offerID, outcomeLabel(ok)).Inc()
}

func (m *DistributionMetrics) ObserveOperation(operation string, ok bool, started time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcomeLabel(ok)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *DistributionMetrics) ObserveRollback(offerID string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(offerID).Inc()
}

func (m *DistributionMetrics) AddBytesStored(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesStored.Add(float64(n))
}

func (m *DistributionMetrics) TransferStarted() {
	if m == nil {
		return
	}
	m.InflightTransfers.Inc()
}

func (m *DistributionMetrics) TransferFinished() {
	if m == nil {
		return
	}
	m.InflightTransfers.Dec()
}
