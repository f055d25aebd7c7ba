package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Job run outcomes.
const (
	CronJobSucceeded = "succeeded"
	CronJobFailed    = "failed"
	CronJobTimedOut  = "timed_out"
)

// Cycle outcomes. A cycle is one attempt to take the lock and sweep.
const (
	CronCycleRan       = "ran"
	CronCycleSkipped   = "skipped"
	CronCycleLockError = "lock_error"
)

// CronJobMetrics covers the cron worker: per-job runs, their latency, the
// rows they touched and how each lock attempt ended.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	affected *prometheus.CounterVec
	cycles   *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job executions by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of cron job executions.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_rows_affected_total",
			Help:      "Rows expired or purged by cron jobs.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "cycles_total",
			Help:      "Scheduler ticks by lock outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.runs, m.duration, m.affected, m.cycles)
	return m
}

// ObserveRun records one execution of job.
func (c *CronJobMetrics) ObserveRun(job, outcome string, took time.Duration) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(job).Observe(took.Seconds())
}

// AddAffected counts rows a job changed during one run.
func (c *CronJobMetrics) AddAffected(job string, n int) {
	if c == nil || c.affected == nil || n <= 0 {
		return
	}
	c.affected.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func (c *CronJobMetrics) IncCycle(outcome string) {
	if c == nil || c.cycles == nil {
		return
	}
	c.cycles.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
