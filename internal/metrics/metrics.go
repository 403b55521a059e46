// Package metrics holds the service's Prometheus instruments.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inventory"

type Metrics struct {
	gatherer prometheus.Gatherer

	// RequestDuration tracks HTTP latency by method, route template and status.
	RequestDuration *prometheus.HistogramVec

	// StockAdjustments counts ledger calls by reason and outcome
	// ("ok" | "not_found" | "insufficient" | "error").
	StockAdjustments *prometheus.CounterVec

	// AllocationAttempts observes how many attempts one id allocation needed.
	AllocationAttempts prometheus.Histogram

	// AllocationFailures counts allocations that ran out of attempts.
	AllocationFailures prometheus.Counter

	// EventsPublished counts stock events by sink and outcome.
	EventsPublished *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		StockAdjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "adjustments_total",
				Help:      "Stock adjustments by reason and outcome.",
			},
			[]string{"reason", "outcome"},
		),
		AllocationAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "attempts_per_allocation",
			Help:      "Number of candidate ids tried per successful allocation.",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
		AllocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "exhausted_total",
			Help:      "Allocations that exhausted their attempt budget.",
		}),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Stock events published by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		),
	}
	reg.MustRegister(
		m.RequestDuration,
		m.StockAdjustments,
		m.AllocationAttempts,
		m.AllocationFailures,
		m.EventsPublished,
	)
	return m
}

// NewDefault registers against the global Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func (m *Metrics) ObserveAdjustment(reason, outcome string) {
	if m == nil {
		return
	}
	m.StockAdjustments.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) ObserveAllocation(attempts int, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.AllocationFailures.Inc()
		return
	}
	m.AllocationAttempts.Observe(float64(attempts))
}

func (m *Metrics) ObserveEvent(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(sink, outcome).Inc()
}

// Middleware records request latency. The route template is used as the path
// label so /api/products/123456 does not explode cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
