package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/austindbirch/qrhook/internal/webhook"
)

const maxBodyBytes = 64 << 10

type upsertRequest struct {
	URL      string   `json:"url"`
	IsActive *bool    `json:"is_active"`
	Events   []string `json:"events"`
}

type configResponse struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	URL        string    `json:"url"`
	IsActive   bool      `json:"is_active"`
	Events     []string  `json:"events"`
	Secret     string    `json:"secret,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newConfigResponse(c *webhook.Config) configResponse {
	return configResponse{
		ID:         c.ID,
		ResourceID: c.ResourceID,
		URL:        c.URL,
		IsActive:   c.IsActive,
		Events:     c.SubscribedEvents,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type testResponse struct {
	DeliveryID   string         `json:"delivery_id"`
	Status       webhook.Status `json:"status"`
	HTTPStatus   *int           `json:"http_status"`
	ErrorMessage *string        `json:"error_message"`
}

type deliveriesResponse struct {
	Deliveries []webhook.Delivery `json:"deliveries"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	Total      int                `json:"total"`
}

func (s *server) upsertWebhook(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.webhooks.Upsert(r.Context(), accountID(r), chi.URLParam(r, "resourceID"), webhook.UpsertInput{
		URL:      req.URL,
		IsActive: req.IsActive,
		Events:   req.Events,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	body := newConfigResponse(res.Config)
	status := http.StatusOK
	if res.Created {
		body.Secret = res.Secret
		status = http.StatusCreated
	}
	writeJSON(w, status, body)
}

func (s *server) getWebhook(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.webhooks.Get(r.Context(), accountID(r), chi.URLParam(r, "resourceID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (s *server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.Delete(r.Context(), accountID(r), chi.URLParam(r, "resourceID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) testWebhook(w http.ResponseWriter, r *http.Request) {
	d, err := s.webhooks.TestDelivery(r.Context(), accountID(r), chi.URLParam(r, "resourceID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, testResponse{
		DeliveryID:   d.ID,
		Status:       d.Status,
		HTTPStatus:   d.HTTPStatus,
		ErrorMessage: d.ErrorMessage,
	})
}

func (s *server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page must be an integer", Field: "page"})
		return
	}
	perPage, err := queryInt(q.Get("per_page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "per_page must be an integer", Field: "per_page"})
		return
	}

	items, total, f, err := s.webhooks.ListDeliveries(r.Context(), accountID(r), chi.URLParam(r, "resourceID"), webhook.DeliveryFilter{
		Status:  webhook.Status(q.Get("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []webhook.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: items, Page: f.Page, PerPage: f.PerPage, Total: total})
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
