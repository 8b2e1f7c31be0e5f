// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every job handler. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	processed   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

// NewMetrics registers the job collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed job executions.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_job_items_processed_total",
			Help: "Articles, keys or languages handled by jobs.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.processed, m.lastSuccess)
	return m
}

// Run is one tracked job execution.
type Run struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Run {
	run := &Run{metrics: m, job: job}
	if m != nil {
		run.start = m.now()
	}
	return run
}

// End records the outcome and returns err unchanged.
func (r *Run) End(err error) error {
	m := r.metrics
	if m == nil {
		return err
	}
	finished := m.now()
	if err != nil {
		m.failures.WithLabelValues(r.job).Inc()
		m.runs.WithLabelValues(r.job, "failure").Inc()
	} else {
		m.runs.WithLabelValues(r.job, "success").Inc()
		m.lastSuccess.WithLabelValues(r.job).Set(float64(finished.Unix()))
	}
	m.duration.WithLabelValues(r.job).Observe(finished.Sub(r.start).Seconds())
	return err
}

// AddProcessed counts the items a run touched.
func (m *Metrics) AddProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.processed.WithLabelValues(job).Add(float64(count))
}
