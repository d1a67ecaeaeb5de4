package metrics

import (
	"strings"
	"time"

	"github.com/branchdesk/sequencer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the allocator. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AllocationsTotal   *prometheus.CounterVec
	NumbersIssuedTotal *prometheus.CounterVec
	DriftCorrections   *prometheus.CounterVec
	AllocationLatency  *prometheus.HistogramVec
	RetriesTotal       *prometheus.CounterVec
}

// NewMetrics registers the allocator metrics on reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	namespace = strings.ReplaceAll(strings.ToLower(namespace), "-", "_")
	return &Metrics{
		AllocationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Total number of block allocations",
			},
			[]string{"status"}, // success/invalid/failed/constraint
		),
		NumbersIssuedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "numbers_issued_total",
				Help:      "Running numbers reserved by the allocator",
			},
			[]string{"period"},
		),
		DriftCorrections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_corrections_total",
				Help:      "Allocations whose base came from persisted items instead of the counter",
			},
			[]string{"source"}, // allocate/reconcile
		),
		AllocationLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "allocation_latency_seconds",
				Help:      "Time spent inside the allocation critical section",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		RetriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_retries_total",
				Help:      "Whole operation retries after retryable failures",
			},
			[]string{"operation"},
		),
	}
}

// NewFromConfig registers on the default registry when metrics are enabled
func NewFromConfig(cfg *config.Configuration) *Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return NewMetrics(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)
}

func (m *Metrics) ObserveAllocation(status string, started time.Time) {
	if m == nil {
		return
	}
	m.AllocationsTotal.WithLabelValues(status).Inc()
	m.AllocationLatency.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddIssued(period string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.NumbersIssuedTotal.WithLabelValues(period).Add(float64(count))
}

func (m *Metrics) IncDrift(source string) {
	if m == nil {
		return
	}
	m.DriftCorrections.WithLabelValues(source).Inc()
}

func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}
