package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "seq-test")

	m.ObserveAllocation("success", time.Now())
	m.AddIssued("2024", 5)
	m.AddIssued("2024", 0)
	m.IncDrift("allocate")
	m.IncRetry("edit_submission")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationsTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.NumbersIssuedTotal.WithLabelValues("2024")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftCorrections.WithLabelValues("allocate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("edit_submission")))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAllocation("success", time.Now())
		m.AddIssued("2024", 1)
		m.IncDrift("allocate")
		m.IncRetry("create_submission")
	})
}
