package webhook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Service is the entry point used by the dashboard API and by event producers.
type Service struct {
	store       Store
	resources   Resources
	executor    *Executor
	maxAttempts int
	now         func() time.Time
	logger      *logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides time.Now for created_at and test scan timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the configuration API and the producer path around an executor.
// A non-positive maxAttempts selects DefaultMaxAttempts.
func NewService(store Store, resources Resources, executor *Executor, maxAttempts int, opts ...ServiceOption) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	s := &Service{
		store:       store,
		resources:   resources,
		executor:    executor,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logging.New("qrhook-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertInput is the body of a configuration write. Nil fields keep their
// current value (or the default on creation).
type UpsertInput struct {
	URL      string
	IsActive *bool
	Events   []string
}

// UpsertResult holds the stored configuration. Secret is set only when the
// configuration was created by this call.
type UpsertResult struct {
	Config  *Config
	Secret  string
	Created bool
}

// Upsert creates the resource's configuration or updates the existing one. The
// URL is validated before anything is read or written.
func (s *Service) Upsert(ctx context.Context, accountID, resourceID string, in UpsertInput) (UpsertResult, error) {
	if accountID == "" {
		return UpsertResult{}, newValidationError("account_id", "is required", nil)
	}
	if resourceID == "" {
		return UpsertResult{}, newValidationError("resource_id", "is required", nil)
	}
	if strings.TrimSpace(in.URL) == "" {
		return UpsertResult{}, newValidationError("url", "is required", nil)
	}
	if v := ValidateURL(in.URL); !v.Valid {
		return UpsertResult{}, newValidationError("url", v.Reason, ErrInvalidURL)
	}
	var events []string
	if in.Events != nil {
		var err error
		if events, err = normalizeEvents(in.Events); err != nil {
			return UpsertResult{}, err
		}
	}

	existing, err := s.store.GetConfigByResource(ctx, resourceID)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = nil
	case err != nil:
		return UpsertResult{}, fmt.Errorf("load config for resource %s: %w", resourceID, err)
	case existing.AccountID != accountID:
		return UpsertResult{}, ErrNotFound
	}

	var cfg Config
	if existing == nil {
		secret, err := GenerateSecret()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("generate secret: %w", err)
		}
		now := s.now().UTC()
		cfg = Config{
			ID:               uuid.NewString(),
			ResourceID:       resourceID,
			AccountID:        accountID,
			Secret:           secret,
			IsActive:         true,
			SubscribedEvents: []string{EventTypeScan},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	} else {
		cfg = *existing
		cfg.UpdatedAt = s.now().UTC()
	}
	cfg.URL = strings.TrimSpace(in.URL)
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}
	if events != nil {
		cfg.SubscribedEvents = events
	}

	created, err := s.store.UpsertConfig(ctx, &cfg)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert config for resource %s: %w", resourceID, err)
	}
	s.logger.WithContext(ctx).WithAccount(accountID).WithResource(resourceID).WithConfig(cfg.ID).
		WithField("created", created).Info("webhook configuration saved")

	res := UpsertResult{Config: &cfg, Created: created}
	if created {
		res.Secret = cfg.Secret
	}
	return res, nil
}

// Get returns the account's configuration for the resource.
func (s *Service) Get(ctx context.Context, accountID, resourceID string) (*Config, error) {
	cfg, err := s.store.GetConfigByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if cfg.AccountID != accountID {
		return nil, ErrNotFound
	}
	return cfg, nil
}

// Delete removes the configuration together with its delivery history.
func (s *Service) Delete(ctx context.Context, accountID, resourceID string) error {
	cfg, err := s.Get(ctx, accountID, resourceID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConfig(ctx, cfg.ID); err != nil {
		return fmt.Errorf("delete config %s: %w", cfg.ID, err)
	}
	s.logger.WithContext(ctx).WithAccount(accountID).WithResource(resourceID).WithConfig(cfg.ID).Info("webhook configuration deleted")
	return nil
}

// Notify is called by event producers. When the resource has an active
// configuration subscribed to the event, it records a delivery and makes the
// first attempt synchronously. Delivery failures are never returned: they live
// on the delivery row. A nil delivery means nothing was subscribed.
func (s *Service) Notify(ctx context.Context, resourceID string, eventRef *string, ev Event) (*Delivery, error) {
	ev, err := derefEvent(ev)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "webhook.notify",
		attribute.String("resource_id", resourceID),
		attribute.String("event_type", ev.EventType()),
	)
	defer span.End()

	cfg, err := s.store.GetConfigByResource(ctx, resourceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("load config for resource %s: %w", resourceID, err)
	}
	if !cfg.IsActive || !cfg.Subscribed(ev.EventType()) {
		tracing.AddSpanEvent(ctx, "notify.skipped")
		return nil, nil
	}

	d, err := s.createDelivery(ctx, cfg, eventRef, ev)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return s.attemptOnce(ctx, d), nil
}

// TestDelivery sends fixed mock scan data to the configuration right away and
// returns the outcome. It fails with ErrNotFound, without writing anything,
// when there is no active configuration.
func (s *Service) TestDelivery(ctx context.Context, accountID, resourceID string) (*Delivery, error) {
	cfg, err := s.Get(ctx, accountID, resourceID)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, ErrInactive)
	}
	d, err := s.createDelivery(ctx, cfg, nil, TestScanEvent(s.now().UTC()))
	if err != nil {
		return nil, err
	}
	return s.attemptOnce(ctx, d), nil
}

// ListDeliveries returns one page of the configuration's delivery log, newest first.
func (s *Service) ListDeliveries(ctx context.Context, accountID, resourceID string, f DeliveryFilter) ([]Delivery, int, DeliveryFilter, error) {
	f = f.Normalize()
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, f, newValidationError("status", fmt.Sprintf("unknown status %q", f.Status), nil)
	}
	cfg, err := s.Get(ctx, accountID, resourceID)
	if err != nil {
		return nil, 0, f, err
	}
	items, total, err := s.store.ListDeliveries(ctx, cfg.ID, f)
	if err != nil {
		return nil, 0, f, fmt.Errorf("list deliveries for config %s: %w", cfg.ID, err)
	}
	return items, total, f, nil
}

func (s *Service) createDelivery(ctx context.Context, cfg *Config, eventRef *string, ev Event) (*Delivery, error) {
	res, err := s.resources.Resource(ctx, cfg.ResourceID)
	if errors.Is(err, ErrNotFound) {
		res = Resource{ID: cfg.ResourceID}
	} else if err != nil {
		return nil, fmt.Errorf("load resource %s: %w", cfg.ResourceID, err)
	}

	id := uuid.NewString()
	payload, err := BuildPayload(id, eventRef, ev, res)
	if err != nil {
		return nil, err
	}
	d := &Delivery{
		ID:          id,
		ConfigID:    cfg.ID,
		EventRef:    eventRef,
		EventType:   ev.EventType(),
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

// attemptOnce runs the executor and returns the freshest view of the delivery.
func (s *Service) attemptOnce(ctx context.Context, d *Delivery) *Delivery {
	log := s.logger.WithContext(ctx).WithDelivery(d.ID).WithConfig(d.ConfigID)
	if _, err := s.executor.Deliver(ctx, d.ID); err != nil {
		log.WithError(err).Error("first delivery attempt could not be recorded")
		return d
	}
	latest, err := s.store.GetDelivery(ctx, d.ID)
	if err != nil {
		log.WithError(err).Warn("reload delivery after attempt failed")
		return d
	}
	return latest
}

func normalizeEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, newValidationError("events", "must include at least one event type", nil)
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.ToLower(strings.TrimSpace(e))
		if !slices.Contains(KnownEventTypes, e) {
			return nil, newValidationError("events", fmt.Sprintf("unknown event type %q", e), nil)
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out, nil
}
