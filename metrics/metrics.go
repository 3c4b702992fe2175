// Package metrics exposes Prometheus collectors for the generation
// pipeline and job queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	JobsScheduled *prometheus.CounterVec
	JobsRedeliver prometheus.Counter
	Invalidations prometheus.Counter
}

// Run outcomes recorded per stage execution.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
)

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftforge",
			Name:      "stage_runs_total",
			Help:      "Stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "draftforge",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of stage executions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		JobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftforge",
			Name:      "jobs_scheduled_total",
			Help:      "Jobs published to the work queue by stage.",
		}, []string{"stage"}),
		JobsRedeliver: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draftforge",
			Name:      "jobs_redelivered_total",
			Help:      "Jobs negatively acknowledged back to the queue for redelivery.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draftforge",
			Name:      "mockup_invalidations_total",
			Help:      "Mockups flagged stale by upstream changes.",
		}),
	}
	reg.MustRegister(c.StageRuns, c.StageDuration, c.JobsScheduled, c.JobsRedeliver, c.Invalidations)
	return c
}
