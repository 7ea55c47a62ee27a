// Package metrics exposes Prometheus metrics for the model-run queue service.
// Call New() once during application startup; promauto registers every metric
// with the default registry, which the /metrics handler serves.
//
// Exposed metrics:
//
//	simq_tasks_submitted_total   – tasks accepted by the queue (labels: model)
//	simq_tasks_confirmed_total   – confirmation codes consumed
//	simq_tasks_expired_total     – unconfirmed tasks expired by the sweeper
//	simq_tasks_reclaimed_total   – in-flight tasks returned to runnable
//	simq_tasks_total             – tasks reaching a terminal ack (labels: status)
//	simq_queue_depth             – runnable queue depth gauge
//	simq_inflight_tasks          – in-flight task count gauge
//	simq_worker_polls_total      – worker poll requests (labels: outcome)
//	simq_worker_heartbeats_total – heartbeats accepted for in-flight tasks
//	simq_task_duration_seconds   – model execution duration histogram (labels: model, status)
//	simq_mails_sent_total        – result/failure mails sent (labels: kind)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups all Prometheus metrics exposed by the queue service.
type Collector struct {
	TasksSubmitted   *prometheus.CounterVec
	TasksConfirmed   prometheus.Counter
	TasksExpired     prometheus.Counter
	TasksReclaimed   prometheus.Counter
	TasksTotal       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	InFlightTasks    prometheus.Gauge
	WorkerPolls      *prometheus.CounterVec
	WorkerHeartbeats prometheus.Counter
	TaskDuration     *prometheus.HistogramVec
	MailsSent        *prometheus.CounterVec
}

// New registers and returns all queue-service Prometheus metrics using
// promauto so that each metric is automatically registered with the default
// registry.
func New() *Collector {
	return &Collector{
		TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simq_tasks_submitted_total",
			Help: "Total number of tasks accepted by the queue.",
		}, []string{"model"}),

		TasksConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "simq_tasks_confirmed_total",
			Help: "Total number of confirmation codes consumed.",
		}),

		TasksExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "simq_tasks_expired_total",
			Help: "Total number of unconfirmed tasks expired by the sweeper.",
		}),

		TasksReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "simq_tasks_reclaimed_total",
			Help: "Total number of in-flight tasks returned to the runnable queue.",
		}),

		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simq_tasks_total",
			Help: "Total number of tasks reaching a terminal acknowledgement.",
		}, []string{"status"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "simq_queue_depth",
			Help: "Current depth of the runnable queue.",
		}),

		InFlightTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "simq_inflight_tasks",
			Help: "Current number of in-flight tasks.",
		}),

		WorkerPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simq_worker_polls_total",
			Help: "Total number of worker poll requests.",
		}, []string{"outcome"}),

		WorkerHeartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "simq_worker_heartbeats_total",
			Help: "Total number of heartbeats accepted for in-flight tasks.",
		}),

		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simq_task_duration_seconds",
			Help:    "Histogram of model execution durations in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"model", "status"}),

		MailsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "simq_mails_sent_total",
			Help: "Total number of result and failure mails sent.",
		}, []string{"kind"}),
	}
}
