package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/qrhook/internal/webhook"
)

// DBTX is the subset of pgxpool.Pool used by Postgres.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production webhook store.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const configColumns = `id, resource_id, account_id, url, secret, is_active, subscribed_events, created_at, updated_at`

const deliveryColumns = `id, config_id, event_ref, event_type, payload, status, http_status, response_body,
	error_message, attempt_number, max_attempts, next_retry_at, created_at, delivered_at`

func (p *Postgres) GetConfig(ctx context.Context, id string) (*webhook.Config, error) {
	row := p.db.QueryRow(ctx, `SELECT `+configColumns+` FROM webhook_configs WHERE id=$1`, id)
	return scanConfig(row)
}

func (p *Postgres) GetConfigByResource(ctx context.Context, resourceID string) (*webhook.Config, error) {
	row := p.db.QueryRow(ctx, `SELECT `+configColumns+` FROM webhook_configs WHERE resource_id=$1`, resourceID)
	return scanConfig(row)
}

// UpsertConfig relies on the unique resource_id constraint. The update arm only
// fires for the owning account; otherwise no row comes back and ErrNotFound is returned.
func (p *Postgres) UpsertConfig(ctx context.Context, cfg *webhook.Config) (bool, error) {
	var created bool
	err := p.db.QueryRow(ctx, `
		INSERT INTO webhook_configs (`+configColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (resource_id) DO UPDATE
		SET url = EXCLUDED.url,
		    is_active = EXCLUDED.is_active,
		    subscribed_events = EXCLUDED.subscribed_events,
		    updated_at = EXCLUDED.updated_at
		WHERE webhook_configs.account_id = EXCLUDED.account_id
		RETURNING `+configColumns+`, (xmax = 0)`,
		cfg.ID, cfg.ResourceID, cfg.AccountID, cfg.URL, cfg.Secret, cfg.IsActive,
		cfg.SubscribedEvents, cfg.CreatedAt, cfg.UpdatedAt,
	).Scan(&cfg.ID, &cfg.ResourceID, &cfg.AccountID, &cfg.URL, &cfg.Secret, &cfg.IsActive,
		&cfg.SubscribedEvents, &cfg.CreatedAt, &cfg.UpdatedAt, &created)
	if err != nil {
		return false, notFound(err)
	}
	return created, nil
}

func (p *Postgres) DeleteConfig(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM webhook_configs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.ConfigID, d.EventRef, d.EventType, []byte(d.Payload), d.Status, d.HTTPStatus,
		d.ResponseBody, d.ErrorMessage, d.AttemptNumber, d.MaxAttempts, d.NextRetryAt,
		d.CreatedAt, d.DeliveredAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("config %s: %w", d.ConfigID, webhook.ErrNotFound)
	}
	return err
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (*webhook.Delivery, error) {
	row := p.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id=$1`, id)
	return scanDelivery(row)
}

func (p *Postgres) SaveAttempt(ctx context.Context, d *webhook.Delivery) error {
	_, err := p.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status=$2, http_status=$3, response_body=$4, error_message=$5,
		    attempt_number=$6, next_retry_at=$7, delivered_at=$8
		WHERE id=$1 AND status NOT IN ('success', 'exhausted')`,
		d.ID, d.Status, d.HTTPStatus, d.ResponseBody, d.ErrorMessage,
		d.AttemptNumber, d.NextRetryAt, d.DeliveredAt,
	)
	return err
}

func (p *Postgres) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC, id ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (p *Postgres) ListDeliveries(ctx context.Context, configID string, f webhook.DeliveryFilter) ([]webhook.Delivery, int, error) {
	f = f.Normalize()
	var total int
	if err := p.db.QueryRow(ctx, `
		SELECT count(*) FROM webhook_deliveries
		WHERE config_id=$1 AND ($2::text = '' OR status = $2::text)`,
		configID, string(f.Status),
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := p.db.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE config_id=$1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		configID, string(f.Status), f.PerPage, f.Offset())
	if err != nil {
		return nil, 0, err
	}
	items, err := collectDeliveries(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (p *Postgres) DeleteDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM webhook_deliveries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Resource reads the QR code summary embedded in payloads.
func (p *Postgres) Resource(ctx context.Context, resourceID string) (webhook.Resource, error) {
	var r webhook.Resource
	err := p.db.QueryRow(ctx, `SELECT id, name, short_code FROM qr_codes WHERE id=$1`, resourceID).
		Scan(&r.ID, &r.Name, &r.ShortCode)
	if err != nil {
		return webhook.Resource{}, notFound(err)
	}
	return r, nil
}

func scanConfig(row pgx.Row) (*webhook.Config, error) {
	var c webhook.Config
	err := row.Scan(&c.ID, &c.ResourceID, &c.AccountID, &c.URL, &c.Secret, &c.IsActive,
		&c.SubscribedEvents, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func scanDelivery(row pgx.Row) (*webhook.Delivery, error) {
	var (
		d       webhook.Delivery
		status  string
		payload []byte
	)
	err := row.Scan(&d.ID, &d.ConfigID, &d.EventRef, &d.EventType, &payload, &status,
		&d.HTTPStatus, &d.ResponseBody, &d.ErrorMessage, &d.AttemptNumber, &d.MaxAttempts,
		&d.NextRetryAt, &d.CreatedAt, &d.DeliveredAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.Status = webhook.Status(status)
	d.Payload = payload
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]webhook.Delivery, error) {
	defer rows.Close()
	var out []webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.ErrNotFound
	}
	return err
}
