package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/qrhook/internal/api"
	"github.com/austindbirch/qrhook/internal/health"
	"github.com/austindbirch/qrhook/internal/metrics"
)

func TestNewHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.RecordJobRun("retry", "ok")

	tests := []struct {
		name       string
		dbErr      error
		path       string
		wantStatus int
		wantBody   string
	}{
		{"healthy", nil, "/healthz", http.StatusOK, `"database":true`},
		{"database down", errors.New("refused"), "/healthz", http.StatusServiceUnavailable, "database ping failed"},
		{"metrics", nil, "/metrics", http.StatusOK, "qrhook_job_runs_total"},
		{"jobs need secret", nil, "/internal/jobs/webhook-retries", http.StatusMethodNotAllowed, ""},
		{"dashboard needs auth", nil, "/v1/resources/qr_1/webhook", http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ping := health.PingerFunc(func(context.Context) error { return tt.dbErr })
			h := newHandler(api.Options{}, map[string]health.Pinger{"database": ping}, reg)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", rr.Body.String(), tt.wantBody)
			}
		})
	}
}
