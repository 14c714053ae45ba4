package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes service metrics for Prometheus. A nil *Collector is a
// valid no-op recorder.
type Collector struct {
	registry *prometheus.Registry

	samplesIngested  *prometheus.CounterVec
	lifecycleEvents  *prometheus.CounterVec
	archivalAttempts *prometheus.CounterVec
	archivalQueue    prometheus.Gauge
	analysisDuration prometheus.Histogram
	jobLocksHeld     prometheus.GaugeFunc
}

// NewCollector creates a collector with its own registry. lockCount, when
// non-nil, reports how many job ids currently hold or await a store lock.
func NewCollector(lockCount func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		samplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_insights_samples_ingested_total",
			Help: "Telemetry samples received, by result",
		}, []string{"result"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_insights_lifecycle_events_total",
			Help: "Lifecycle events handled, by action and outcome",
		}, []string{"action", "outcome"}),
		archivalAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_insights_log_archival_total",
			Help: "Log archival runs, by result",
		}, []string{"result"}),
		archivalQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_insights_log_archival_queue_depth",
			Help: "Jobs waiting for log archival",
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runner_insights_analysis_duration_seconds",
			Help:    "Time spent producing an analysis report",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.samplesIngested,
		c.lifecycleEvents,
		c.archivalAttempts,
		c.archivalQueue,
		c.analysisDuration,
		collectors.NewGoCollector(),
	)

	if lockCount != nil {
		c.jobLocksHeld = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "runner_insights_job_locks",
			Help: "Job ids currently holding or awaiting a store lock",
		}, func() float64 { return float64(lockCount()) })
		c.registry.MustRegister(c.jobLocksHeld)
	}

	return c
}

// RecordIngest counts a telemetry sample by result (accepted, invalid, not_found, error)
func (c *Collector) RecordIngest(result string) {
	if c == nil {
		return
	}
	c.samplesIngested.WithLabelValues(result).Inc()
}

// RecordLifecycle counts a lifecycle event
func (c *Collector) RecordLifecycle(action, outcome string) {
	if c == nil {
		return
	}
	c.lifecycleEvents.WithLabelValues(action, outcome).Inc()
}

// RecordArchival counts an archival run by result (archived, failed, dropped)
func (c *Collector) RecordArchival(result string) {
	if c == nil {
		return
	}
	c.archivalAttempts.WithLabelValues(result).Inc()
}

// SetArchivalQueueDepth reports the dispatcher backlog
func (c *Collector) SetArchivalQueueDepth(n int) {
	if c == nil {
		return
	}
	c.archivalQueue.Set(float64(n))
}

// ObserveAnalysis records how long an analysis took
func (c *Collector) ObserveAnalysis(d time.Duration) {
	if c == nil {
		return
	}
	c.analysisDuration.Observe(d.Seconds())
}

// Handler serves the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}
