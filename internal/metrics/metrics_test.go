package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	RecordScanEvent("notified")
	RecordDelivery("success", 120*time.Millisecond)
	RecordRetry("timeout")
	RecordExhausted("http_5xx")
	RecordJobRun("retry", "ok")
	RecordJobAuthFailure("cleanup")
	RecordCleanup(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	got := map[string]bool{}
	for _, mf := range families {
		got[mf.GetName()] = true
	}
	for _, name := range []string{
		"qrhook_scan_events_total",
		"qrhook_deliveries_total",
		"qrhook_delivery_latency_seconds",
		"qrhook_retries_total",
		"qrhook_exhausted_total",
		"qrhook_job_runs_total",
		"qrhook_job_auth_failures_total",
		"qrhook_cleanup_deleted_total",
	} {
		if !got[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		latency     time.Duration
		wantSamples uint64
	}{
		{"attempt with latency", "failed", 250 * time.Millisecond, 1},
		{"config error has no latency", "config_error", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.status))
			samplesBefore := histogramCount(t)

			RecordDelivery(tt.status, tt.latency)

			if got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.status)) - before; got != 1 {
				t.Errorf("deliveries_total{status=%s} delta = %v, want 1", tt.status, got)
			}
			if got := histogramCount(t) - samplesBefore; got != tt.wantSamples {
				t.Errorf("latency samples delta = %d, want %d", got, tt.wantSamples)
			}
		})
	}
}

func histogramCount(t *testing.T) uint64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(DeliveryLatency)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather latency: %v", err)
	}
	return mfs[0].GetMetric()[0].GetHistogram().GetSampleCount()
}

func TestRecordCleanup_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(CleanupDeletedTotal)
	RecordCleanup(0)
	RecordCleanup(-4)
	RecordCleanup(7)
	if got := testutil.ToFloat64(CleanupDeletedTotal) - before; got != 7 {
		t.Errorf("cleanup_deleted_total delta = %v, want 7", got)
	}
}

func TestJobCounters(t *testing.T) {
	runsBefore := testutil.ToFloat64(JobRunsTotal.WithLabelValues("cleanup", "error"))
	authBefore := testutil.ToFloat64(JobAuthFailuresTotal.WithLabelValues("retry"))

	RecordJobRun("cleanup", "error")
	RecordJobAuthFailure("retry")
	RecordJobAuthFailure("retry")

	if got := testutil.ToFloat64(JobRunsTotal.WithLabelValues("cleanup", "error")) - runsBefore; got != 1 {
		t.Errorf("job_runs_total{cleanup,error} delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(JobAuthFailuresTotal.WithLabelValues("retry")) - authBefore; got != 2 {
		t.Errorf("job_auth_failures_total{retry} delta = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(JobAuthFailuresTotal, "qrhook_job_auth_failures_total"); n < 1 {
		t.Errorf("CollectAndCount() = %d, want at least 1 series", n)
	}
}
