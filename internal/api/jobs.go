package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
)

// cronAuth checks the shared job secret before anything else runs.
func cronAuth(secret, job string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				metrics.RecordJobAuthFailure(job)
				logger.WithContext(r.Context()).WithFields(map[string]any{
					"job":         job,
					"remote_addr": r.RemoteAddr,
					"configured":  secret != "",
				}).Warn("job trigger authorization failed")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cleanupResponse struct {
	Deleted int64  `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

func (s *server) runRetries(w http.ResponseWriter, r *http.Request) {
	// The batch outlives the trigger's connection; a disconnect must not cut attempts short.
	sum, err := s.retries.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) runCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.cleanup.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: res.Deleted, Cutoff: res.Cutoff.UTC().Format(time.RFC3339)})
}
