package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsStarted     prometheus.Counter
	runsFinished    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	threadsFinished *prometheus.CounterVec
	threadDuration  *prometheus.HistogramVec
	stepDuration    *prometheus.HistogramVec
	stepFailures    *prometheus.CounterVec
	staggerWait     prometheus.Histogram
	activeRuns      prometheus.Gauge
	runningThreads  prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg
// (the default registerer when nil)
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowfarm_runs_started_total",
				Help: "Total number of runs started",
			},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowfarm_runs_finished_total",
				Help: "Total number of runs finished",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowfarm_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"status"},
		),
		threadsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowfarm_threads_finished_total",
				Help: "Total number of account threads finished",
			},
			[]string{"status"},
		),
		threadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowfarm_thread_duration_seconds",
				Help:    "Account thread duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowfarm_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		stepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowfarm_step_failures_total",
				Help: "Total number of failed step attempts",
			},
			[]string{"kind", "reason"},
		),
		staggerWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowfarm_stagger_wait_seconds",
				Help:    "Time between chunk start and thread start",
				Buckets: []float64{0, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowfarm_active_runs",
				Help: "Number of runs not yet finished",
			},
		),
		runningThreads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowfarm_running_threads",
				Help: "Number of account threads currently running",
			},
		),
	}
}

// RecordRunStarted records a run start
func (c *Collector) RecordRunStarted() {
	c.runsStarted.Inc()
}

// RecordRunFinished records a run reaching a terminal status
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordThreadFinished records a thread reaching a terminal status
func (c *Collector) RecordThreadFinished(status string, duration time.Duration) {
	c.threadsFinished.WithLabelValues(status).Inc()
	c.threadDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveStepDuration records one handler invocation
func (c *Collector) ObserveStepDuration(kind string, duration time.Duration) {
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncStepFailures counts a failed step attempt
func (c *Collector) IncStepFailures(kind, reason string) {
	c.stepFailures.WithLabelValues(kind, reason).Inc()
}

// ObserveStaggerWait records the delay before a thread started
func (c *Collector) ObserveStaggerWait(duration time.Duration) {
	c.staggerWait.Observe(duration.Seconds())
}

// SetActiveRuns sets the active runs gauge
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// SetRunningThreads sets the running threads gauge
func (c *Collector) SetRunningThreads(count int) {
	c.runningThreads.Set(float64(count))
}
