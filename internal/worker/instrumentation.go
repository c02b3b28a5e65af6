package worker

import (
	"time"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
	"github.com/bsos-ops/bsos/backend/internal/models"
)

// PrometheusInstrumentation reports job lifecycle events to the metrics registry.
func PrometheusInstrumentation() *Instrumentation {
	return &Instrumentation{
		OnEnqueue: func(job *models.Job) {
			metrics.IncReconcileJob(job.JobType, "enqueued")
		},
		OnComplete: func(job *models.Job, d time.Duration) {
			metrics.IncReconcileJob(job.JobType, "succeeded")
			metrics.ObserveReconcileJob(job.JobType, d)
		},
		OnFail: func(job *models.Job, _ error, d time.Duration) {
			metrics.IncReconcileJob(job.JobType, "failed")
			metrics.ObserveReconcileJob(job.JobType, d)
		},
		OnRetry: func(job *models.Job, _ time.Duration) {
			metrics.IncReconcileJob(job.JobType, "retried")
		},
		OnCancel: func(job *models.Job) {
			metrics.IncReconcileJob(job.JobType, "cancelled")
		},
		OnHeartbeat: func(_ string, stats Stats) {
			metrics.SetWorkerActiveJobs(stats.ActiveWorkers)
		},
	}
}
