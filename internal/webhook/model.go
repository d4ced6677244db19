package webhook

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a WebhookDelivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether no further attempts can happen for the status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusExhausted
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusExhausted:
		return true
	}
	return false
}

// Config is the owner-supplied webhook destination for one resource (QR code).
// There is at most one Config per resource.
type Config struct {
	ID               string    `json:"id"`
	ResourceID       string    `json:"resource_id"`
	AccountID        string    `json:"account_id"`
	URL              string    `json:"url"`
	Secret           string    `json:"-"` // only ever returned once, by Upsert on creation
	IsActive         bool      `json:"is_active"`
	SubscribedEvents []string  `json:"events"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Subscribed reports whether the configuration listens for eventType.
func (c *Config) Subscribed(eventType string) bool {
	for _, e := range c.SubscribedEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// Delivery is one notification lineage: a single logical event sent to a Config,
// possibly over several HTTP attempts.
type Delivery struct {
	ID            string          `json:"id"`
	ConfigID      string          `json:"config_id"`
	EventRef      *string         `json:"event_ref"` // nil for test deliveries
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	HTTPStatus    *int            `json:"http_status"`
	ResponseBody  *string         `json:"response_body"`
	ErrorMessage  *string         `json:"error_message"`
	AttemptNumber int             `json:"attempt_number"`
	MaxAttempts   int             `json:"max_attempts"`
	NextRetryAt   *time.Time      `json:"next_retry_at"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at"`
}

// Resource is the summary of the owning QR code embedded in every payload.
type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortCode string `json:"short_code"`
}

// DeliveryFilter narrows a delivery log listing.
type DeliveryFilter struct {
	Status  Status // empty means any
	Page    int    // 1-based
	PerPage int
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Normalize clamps paging values into their accepted ranges.
func (f DeliveryFilter) Normalize() DeliveryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

// Offset returns the number of rows to skip for the filter's page.
func (f DeliveryFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func timePtr(t time.Time) *time.Time {
	return &t
}
