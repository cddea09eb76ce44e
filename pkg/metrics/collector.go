// Package metrics exposes Prometheus metrics for turns, specialists and
// the session store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Collector implements the turn, failure and store observers.
type Collector struct {
	turnsTotal           *prometheus.CounterVec
	turnDuration         *prometheus.HistogramVec
	specialistFailures   *prometheus.CounterVec
	storeOpsTotal        *prometheus.CounterVec
	storeOpDuration      *prometheus.HistogramVec
	sessionsCleanedTotal prometheus.Counter
}

// NewCollector registers every metric on reg. A nil reg uses the default
// registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of handled conversation turns",
			},
			[]string{"route", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Turn latency including load, dispatch and save",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		specialistFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "specialist_failures_total",
				Help:      "Specialist turns that fell back to an apology",
			},
			[]string{"agent"},
		),
		storeOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of session store operations",
			},
			[]string{"op", "status"},
		),
		storeOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Session store operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		sessionsCleanedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_cleaned_total",
				Help:      "Sessions removed by the retention cleanup",
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}

func (c *Collector) ObserveTurn(route string, elapsed time.Duration, err error) {
	if route == "" {
		route = "none"
	}
	c.turnsTotal.WithLabelValues(route, status(err)).Inc()
	c.turnDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveFailure(agent contractx.AgentType, _ error) {
	c.specialistFailures.WithLabelValues(string(agent)).Inc()
}

func (c *Collector) ObserveStoreOp(op string, elapsed time.Duration, err error) {
	c.storeOpsTotal.WithLabelValues(op, status(err)).Inc()
	c.storeOpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) AddSessionsCleaned(n int) {
	if n > 0 {
		c.sessionsCleanedTotal.Add(float64(n))
	}
}
