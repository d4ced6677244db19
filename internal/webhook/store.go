package webhook

import (
	"context"
	"time"
)

// Store persists configurations and deliveries. Implementations return
// ErrNotFound (possibly wrapped) for missing rows.
type Store interface {
	GetConfig(ctx context.Context, id string) (*Config, error)
	GetConfigByResource(ctx context.Context, resourceID string) (*Config, error)
	// UpsertConfig inserts cfg or, when the resource already has a configuration
	// owned by the same account, updates its url, active flag and events. The
	// stored secret is never changed. cfg is filled with the persisted row.
	UpsertConfig(ctx context.Context, cfg *Config) (created bool, err error)
	// DeleteConfig removes the configuration and, by cascade, its deliveries.
	DeleteConfig(ctx context.Context, id string) error

	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	// SaveAttempt writes the outcome fields of d. Rows already in a terminal
	// state are left untouched.
	SaveAttempt(ctx context.Context, d *Delivery) error
	// ListDueDeliveries returns failed deliveries whose next_retry_at is at or
	// before now, oldest due first.
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	// ListDeliveries returns one page of a configuration's deliveries, newest first,
	// and the total number matching the filter.
	ListDeliveries(ctx context.Context, configID string, f DeliveryFilter) ([]Delivery, int, error)
	// DeleteDeliveriesBefore removes deliveries created strictly before cutoff.
	DeleteDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Resources resolves the summary of a QR code for payloads. The QR code records
// themselves belong to the rest of the application.
type Resources interface {
	Resource(ctx context.Context, resourceID string) (Resource, error)
}
