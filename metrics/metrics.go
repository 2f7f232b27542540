package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/phrazzld/taskengine/engine"
)

// Collector bundles the engine's Prometheus metrics. Create one per
// process; a second registration against the same registry panics.
type Collector struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	timedOut  prometheus.Counter
	cancelled prometheus.Counter
	retries   prometheus.Counter
	evicted   prometheus.Counter

	pending prometheus.Gauge
	running prometheus.Gauge
	records prometheus.Gauge

	duration prometheus.Histogram
}

// NewCollector builds the metric set and registers it with reg. A nil reg
// falls back to the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks admitted to the queue.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that finished successfully.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that exhausted their retries.",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "tasks_timed_out_total",
			Help:      "Total number of tasks whose attempt exceeded its budget.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "tasks_cancelled_total",
			Help:      "Total number of tasks cancelled before finishing.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "task_retries_total",
			Help:      "Total number of retry attempts scheduled.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskengine",
			Name:      "task_records_evicted_total",
			Help:      "Total number of finished task records reclaimed.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "tasks_pending",
			Help:      "Current number of tasks waiting for an execution slot.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "tasks_running",
			Help:      "Current number of tasks executing.",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskengine",
			Name:      "task_records",
			Help:      "Current number of task records held in memory.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskengine",
			Name:      "task_duration_seconds",
			Help:      "Wall time of successful task executions in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.submitted, c.completed, c.failed, c.timedOut, c.cancelled,
		c.retries, c.evicted,
		c.pending, c.running, c.records,
		c.duration,
	)
	return c
}

// Handler returns an event handler that keeps the metrics in step with
// task lifecycle transitions. Attach it with engine.WithEventHandler.
func (c *Collector) Handler() engine.Handler {
	return func(ev engine.Event) {
		switch ev.Type {
		case engine.EventSubmitted:
			c.submitted.Inc()
			c.pending.Inc()
			c.records.Inc()

		case engine.EventStarted:
			c.pending.Dec()
			c.running.Inc()

		case engine.EventRetried:
			c.retries.Inc()

		case engine.EventCompleted:
			c.settle(ev.From)
			c.completed.Inc()
			c.duration.Observe(ev.Record.ExecutionTime().Seconds())

		case engine.EventFailed:
			c.settle(ev.From)
			c.failed.Inc()

		case engine.EventTimedOut:
			c.settle(ev.From)
			c.timedOut.Inc()

		case engine.EventCancelled:
			c.settle(ev.From)
			c.cancelled.Inc()

		case engine.EventEvicted:
			c.evicted.Inc()
			c.records.Dec()
		}
	}
}

// settle retires the in-flight gauge the task occupied before its
// terminal transition.
func (c *Collector) settle(from engine.Status) {
	switch from {
	case engine.StatusPending:
		c.pending.Dec()
	case engine.StatusRunning:
		c.running.Dec()
	}
}
