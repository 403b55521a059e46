package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, reg)

	m.ObserveAdjustment("decrement", "ok")
	m.ObserveAdjustment("decrement", "ok")
	m.ObserveAdjustment("decrement", "insufficient")
	m.ObserveAllocation(3, true)
	m.ObserveAllocation(100, false)
	m.ObserveEvent("redis", nil)
	m.ObserveEvent("redis", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("decrement", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("decrement", "insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("redis", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AllocationAttempts))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAdjustment("increment", "ok")
		m.ObserveAllocation(1, true)
		m.ObserveEvent("kafka", nil)
	})
}
