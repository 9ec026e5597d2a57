// Package metrics gathers run counters and latencies into a private
// Prometheus registry. The collector doubles as the metrics sink for the
// queue runner and the fix loop, and can serve /metrics or write JSON
// snapshots for offline inspection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drover/internal/fixloop"
	"drover/internal/queue"
)

// Collector owns the registry and every instrument. All methods are safe on
// a nil receiver so callers can wire metrics optionally.
type Collector struct {
	registry *prometheus.Registry

	llmRequests   *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	browserOps    *prometheus.CounterVec
	fixIterations prometheus.Counter
	cacheEvents   *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	opDuration    *prometheus.SummaryVec
}

// NewCollector builds a collector with a fresh registry, so independent
// instances never collide on registration.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "LLM completions requested, by provider.",
		}, []string{"provider"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_total",
			Help: "Queue tasks finished, by final status.",
		}, []string{"status"}),
		browserOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "browser_ops_total",
			Help: "Browser operations performed, by operation.",
		}, []string{"op"}),
		fixIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fix_iterations_total",
			Help: "Fix loop iterations run.",
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_events_total",
			Help: "Fix cache events (hit, miss, store, stale).",
		}, []string{"event"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Tasks currently in the queue, by status.",
		}, []string{"status"}),
		opDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "op_duration_seconds",
			Help:       "Operation latency quantiles.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
		}, []string{"op"}),
	}
	c.registry.MustRegister(
		c.llmRequests,
		c.tasks,
		c.browserOps,
		c.fixIterations,
		c.cacheEvents,
		c.queueDepth,
		c.opDuration,
	)
	return c
}

// LLMRequest counts one completion request against a provider.
func (c *Collector) LLMRequest(provider string) {
	if c == nil {
		return
	}
	c.llmRequests.WithLabelValues(provider).Inc()
}

// TaskFinished counts a finished queue task by its final status.
func (c *Collector) TaskFinished(status string) {
	if c == nil {
		return
	}
	c.tasks.WithLabelValues(status).Inc()
}

// SetQueueDepth records the current number of tasks in one status.
func (c *Collector) SetQueueDepth(status string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(status).Set(float64(depth))
}

// BrowserOp counts one browser operation.
func (c *Collector) BrowserOp(op string) {
	if c == nil {
		return
	}
	c.browserOps.WithLabelValues(op).Inc()
}

// FixIteration counts one fix loop iteration.
func (c *Collector) FixIteration() {
	if c == nil {
		return
	}
	c.fixIterations.Inc()
}

// CacheEvent counts a fix cache event such as hit, miss, store or stale.
func (c *Collector) CacheEvent(event string) {
	if c == nil {
		return
	}
	c.cacheEvents.WithLabelValues(event).Inc()
}

// Timer starts measuring an operation and returns the stop func that
// observes the elapsed time.
func (c *Collector) Timer(op string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		c.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Observe records an already-measured operation duration.
func (c *Collector) Observe(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var (
	_ queue.MetricsSink   = (*Collector)(nil)
	_ fixloop.MetricsSink = (*Collector)(nil)
)
