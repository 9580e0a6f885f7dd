package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationSeconds, workerQueueDepth) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analysis_jobs_processed_total",
		Help: "Total number of background jobs processed, labeled by kind and terminal status.",
	},
	[]string{"kind", "status"}, // status: 'completed', 'failed', 'cancelled'
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "analysis_job_duration_seconds",
		Help:    "Wall-clock duration of background jobs from submission to terminal state.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"kind"},
)

var workerQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "worker_queue_depth",
		Help: "Number of units of work waiting in the worker pool queue.",
	},
)

func IncJobProcessed(kind, status string) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func ObserveJobDuration(kind string, d time.Duration) {
	jobDurationSeconds.WithLabelValues(norm(kind)).Observe(d.Seconds())
}

func SetWorkerQueueDepth(depth int) {
	workerQueueDepth.Set(float64(depth))
}
