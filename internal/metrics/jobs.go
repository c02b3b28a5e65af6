package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(reconcileJobsTotal, reconcileJobDuration, workerActiveJobs)
}

var (
	reconcileJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_jobs_total",
			Help: "Reconciliation jobs by type and result (enqueued/succeeded/failed/retried/cancelled).",
		},
		[]string{"type", "result"},
	)

	reconcileJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_job_duration_seconds",
			Help:    "Reconciliation job run time by type.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type"},
	)

	workerActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active_jobs",
			Help: "Jobs currently being processed by this instance.",
		},
	)
)

func IncReconcileJob(jobType, result string) {
	reconcileJobsTotal.WithLabelValues(norm(jobType), norm(result)).Inc()
}

func ObserveReconcileJob(jobType string, d time.Duration) {
	reconcileJobDuration.WithLabelValues(norm(jobType)).Observe(d.Seconds())
}

func SetWorkerActiveJobs(n int) {
	workerActiveJobs.Set(float64(n))
}
