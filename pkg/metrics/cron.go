package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK     = "ok"
	resultFailed = "failed"
)

// JobMetrics tracks scheduled job runs by job name and result.
type JobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewJobMetrics registers cron_job_runs_total and cron_job_duration_seconds.
// A nil registerer yields a recorder that drops everything.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	m := &JobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Scheduled job runs (payment sweep, outbox retention), by result.",
		}, []string{"job", "result"}),
		// sweeps call the processor once per stale order, so runs can take minutes
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of scheduled job runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 7),
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.runs, m.duration)
	return m
}

// ObserveRun records one finished run; a non-nil err counts as failed.
func (m *JobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultFailed
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job, result).Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
