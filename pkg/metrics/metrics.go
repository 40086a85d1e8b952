package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	qiitaWare = "qiita_ware"

	// Job metrics
	jobsTotal            = "jobs_total"
	jobsInflight         = "jobs_inflight"
	dispatchDurationName = "dispatch_duration_milliseconds"

	// Analysis metrics
	analysesCompletedTotal = "analyses_completed_total"

	// Notification metrics
	notificationsTotal = "notifications_total"

	// Labels
	jobStatusLabel          = "status"
	notificationKindLabel   = "kind"
	notificationResultLabel = "result"
)

const (
	NotificationPublished = "published"
	NotificationFailed    = "failed"
)

var jobsTotalLabels = []string{
	jobStatusLabel,
}

var notificationsTotalLabels = []string{
	notificationKindLabel,
	notificationResultLabel,
}

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: qiitaWare,
		Name:      jobsTotal,
		Help:      "number of jobs that reached a terminal status",
	},
	jobsTotalLabels,
)

var jobsInflightMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: qiitaWare,
		Name:      jobsInflight,
		Help:      "number of jobs submitted to a worker pool and waiting for an outcome",
	},
)

var dispatchDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: qiitaWare,
		Name:      dispatchDurationName,
		Help:      "time from job dispatch to job outcome",
		Buckets:   []float64{100, 1000, 10000, 60000, 300000, 1800000},
	},
)

var analysesCompletedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: qiitaWare,
		Name:      analysesCompletedTotal,
		Help:      "number of analyses moved to completed",
	},
)

var notificationsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: qiitaWare,
		Name:      notificationsTotal,
		Help:      "number of notification events by kind and publish result",
	},
	notificationsTotalLabels,
)

func IncreaseJobsTotalMetric(status string) {
	labels := prometheus.Labels{
		jobStatusLabel: status,
	}
	jobsTotalMetric.With(labels).Inc()
}

func IncreaseJobsInflightMetric() {
	jobsInflightMetric.Inc()
}

func DecreaseJobsInflightMetric() {
	jobsInflightMetric.Dec()
}

func ObserveDispatchDuration(since time.Time) {
	dispatchDurationMetric.Observe(float64(time.Since(since).Milliseconds()))
}

func IncreaseAnalysesCompletedMetric() {
	analysesCompletedTotalMetric.Inc()
}

func IncreaseNotificationsTotalMetric(kind, result string) {
	labels := prometheus.Labels{
		notificationKindLabel:   kind,
		notificationResultLabel: result,
	}
	notificationsTotalMetric.With(labels).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobsInflightMetric)
	prometheus.MustRegister(dispatchDurationMetric)
	prometheus.MustRegister(analysesCompletedTotalMetric)
	prometheus.MustRegister(notificationsTotalMetric)
	prometheus.MustRegister(Subscribers.counter)
}
