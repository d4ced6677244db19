package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/austindbirch/qrhook/internal/auth"
	"github.com/austindbirch/qrhook/internal/webhook"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors to status codes.
func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *webhook.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, webhook.ErrNotFound):
		msg := "webhook configuration not found"
		if errors.Is(err, webhook.ErrInactive) {
			msg = "webhook configuration is inactive"
		}
		writeError(w, http.StatusNotFound, msg)
	default:
		s.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requireAccount rejects dashboard requests that reached the handlers without
// an authenticated account.
func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.AccountIDFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountID(r *http.Request) string {
	id, _ := auth.AccountIDFromContext(r.Context())
	return id
}
