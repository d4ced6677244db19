// Package api serves the dashboard webhook endpoints and the job triggers
// invoked by the external scheduler.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/webhook"
)

// Webhooks is the configuration and delivery-log surface, implemented by *webhook.Service.
type Webhooks interface {
	Upsert(ctx context.Context, accountID, resourceID string, in webhook.UpsertInput) (webhook.UpsertResult, error)
	Get(ctx context.Context, accountID, resourceID string) (*webhook.Config, error)
	Delete(ctx context.Context, accountID, resourceID string) error
	TestDelivery(ctx context.Context, accountID, resourceID string) (*webhook.Delivery, error)
	ListDeliveries(ctx context.Context, accountID, resourceID string, f webhook.DeliveryFilter) ([]webhook.Delivery, int, webhook.DeliveryFilter, error)
}

// RetryRunner is implemented by *webhook.RetryScheduler.
type RetryRunner interface {
	Run(ctx context.Context) (webhook.RetrySummary, error)
}

// CleanupRunner is implemented by *webhook.Cleanup.
type CleanupRunner interface {
	Run(ctx context.Context) (webhook.CleanupResult, error)
}

type Options struct {
	Webhooks Webhooks
	Retries  RetryRunner
	Cleanup  CleanupRunner
	// CronSecret authorizes job triggers. Empty rejects every trigger.
	CronSecret string
	// Authenticate wraps the dashboard routes and must put the account ID in
	// the request context (see auth.JWTValidator.HTTPMiddleware).
	Authenticate func(http.Handler) http.Handler
	Logger       *logging.Logger
}

type server struct {
	webhooks Webhooks
	retries  RetryRunner
	cleanup  CleanupRunner
	logger   *logging.Logger
}

// NewRouter mounts the dashboard routes under /v1 and the job triggers under /internal/jobs.
func NewRouter(opts Options) chi.Router {
	s := &server{
		webhooks: opts.Webhooks,
		retries:  opts.Retries,
		cleanup:  opts.Cleanup,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = logging.New("qrhook-api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1/resources/{resourceID}/webhook", func(r chi.Router) {
		if opts.Authenticate != nil {
			r.Use(opts.Authenticate)
		}
		r.Use(requireAccount)
		r.Put("/", s.upsertWebhook)
		r.Get("/", s.getWebhook)
		r.Delete("/", s.deleteWebhook)
		r.Post("/test", s.testWebhook)
		r.Get("/deliveries", s.listDeliveries)
	})

	r.Route("/internal/jobs", func(r chi.Router) {
		r.With(cronAuth(opts.CronSecret, "retry", s.logger)).Post("/webhook-retries", s.runRetries)
		r.With(cronAuth(opts.CronSecret, "cleanup", s.logger)).Post("/webhook-cleanup", s.runCleanup)
	})
	return r
}
