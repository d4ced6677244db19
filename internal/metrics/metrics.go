package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScanEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_scan_events_total",
			Help: "Total number of scan events consumed, by outcome.",
		},
		[]string{"outcome"}, // notified, skipped, duplicate, invalid, error
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_deliveries_total",
			Help: "Total number of delivery attempts by resulting status.",
		},
		[]string{"status"},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrhook_delivery_latency_seconds",
			Help:    "Latency of outbound webhook requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_retries_total",
			Help: "Total number of failed attempts scheduled for retry, by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	ExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_exhausted_total",
			Help: "Total number of deliveries that ran out of attempts, by last failure reason.",
		},
		[]string{"reason"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_job_runs_total",
			Help: "Total number of batch job invocations by job and result.",
		},
		[]string{"job", "result"},
	)

	JobAuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrhook_job_auth_failures_total",
			Help: "Total number of job trigger calls rejected for a bad shared secret.",
		},
		[]string{"job"},
	)

	CleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qrhook_cleanup_deleted_total",
			Help: "Total number of delivery rows removed by retention cleanup.",
		},
	)
)

// MustRegister registers every qrhook collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ScanEventsTotal,
		DeliveriesTotal,
		DeliveryLatency,
		RetriesTotal,
		ExhaustedTotal,
		JobRunsTotal,
		JobAuthFailuresTotal,
		CleanupDeletedTotal,
	)
}

// RecordScanEvent counts a consumed scan event.
func RecordScanEvent(outcome string) {
	ScanEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts an attempt outcome. latency is zero when no request was made.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordExhausted(reason string) {
	ExhaustedTotal.WithLabelValues(reason).Inc()
}

func RecordJobRun(job, result string) {
	JobRunsTotal.WithLabelValues(job, result).Inc()
}

func RecordJobAuthFailure(job string) {
	JobAuthFailuresTotal.WithLabelValues(job).Inc()
}

func RecordCleanup(deleted int64) {
	if deleted > 0 {
		CleanupDeletedTotal.Add(float64(deleted))
	}
}
