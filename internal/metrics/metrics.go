// Package metrics provides Prometheus metrics for queue and task activity.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskworker"

// Outcome labels for finished tasks.
const (
	OutcomeExited        = "exited"
	OutcomeSignaled      = "signaled"
	OutcomeLaunchFailure = "launch_failure"
	OutcomeCancelled     = "cancelled"
)

// Metrics holds the collectors for one queue. Collectors are registered on
// the registerer passed to New so tests can use a private registry.
type Metrics struct {
	submitted   prometheus.Counter
	active      prometheus.Gauge
	finished    *prometheus.CounterVec
	duration    prometheus.Histogram
	escalations *prometheus.CounterVec
	outputBytes prometheus.Counter

	activeCount atomic.Int64
}

// New creates and registers the collectors. A nil registerer uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "submitted_total",
			Help:      "Tasks accepted by the queue",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "active_tasks",
			Help:      "Tasks submitted and not yet finished",
		}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Finished tasks by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Time from submission to completion",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "escalations_total",
			Help:      "Termination signals sent by escalation step",
		}, []string{"mode"}),
		outputBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "output_bytes_total",
			Help:      "Bytes of standard output delivered",
		}),
	}
}

// TaskSubmitted records a task entering the queue.
func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.active.Inc()
	m.activeCount.Add(1)
}

// TaskFinished records a task leaving the queue.
func (m *Metrics) TaskFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.activeCount.Add(-1)
	m.finished.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// Escalated records a termination signal being sent.
func (m *Metrics) Escalated(mode string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(mode).Inc()
}

// OutputDelivered records bytes delivered to an output callback.
func (m *Metrics) OutputDelivered(n int) {
	if m == nil {
		return
	}
	m.outputBytes.Add(float64(n))
}

// Active returns the number of tasks in flight.
func (m *Metrics) Active() int64 {
	if m == nil {
		return 0
	}
	return m.activeCount.Load()
}
