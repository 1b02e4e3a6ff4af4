package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_jobs_submitted_total",
		Help: "Total number of jobs accepted, by kind",
	}, []string{"kind"})

	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_jobs_finished_total",
		Help: "Total number of jobs reaching a terminal status",
	}, []string{"kind", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clip_stage_duration_seconds",
		Help:    "Duration of one pipeline stage including retries",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	StageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_stage_retries_total",
		Help: "Total number of retried collaborator calls",
	}, []string{"stage"})

	ConsistencyNoopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_consistency_noops_total",
		Help: "Work items acknowledged without effect because the stored job had moved on",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clip_active_workers",
		Help: "Number of workers currently processing a job",
	})
)
