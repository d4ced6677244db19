// Package queue holds the NSQ message shapes exchanged between scan producers,
// the webhook worker and dead-letter consumers.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/qrhook/internal/webhook"
)

// ScanMessage is one QR code scan published on the scans topic.
type ScanMessage struct {
	EventID      string            `json:"event_id"`
	ResourceID   string            `json:"resource_id"`
	OccurredAt   string            `json:"occurred_at"` // RFC3339
	DeviceType   string            `json:"device_type,omitempty"`
	OS           string            `json:"os,omitempty"`
	Browser      string            `json:"browser,omitempty"`
	Country      string            `json:"country,omitempty"`
	Region       string            `json:"region,omitempty"`
	City         string            `json:"city,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

var errMissingField = errors.New("missing required field")

// Validate checks the fields the worker relies on.
func (m ScanMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("%w: event_id", errMissingField)
	}
	if m.ResourceID == "" {
		return fmt.Errorf("%w: resource_id", errMissingField)
	}
	if _, err := m.occurredAt(); err != nil {
		return err
	}
	return nil
}

func (m ScanMessage) occurredAt() (time.Time, error) {
	if m.OccurredAt == "" {
		return time.Time{}, fmt.Errorf("%w: occurred_at", errMissingField)
	}
	t, err := time.Parse(time.RFC3339Nano, m.OccurredAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("occurred_at: %w", err)
	}
	return t, nil
}

// Event validates the message and converts it to the notification event.
func (m ScanMessage) Event() (webhook.ScanEvent, error) {
	if err := m.Validate(); err != nil {
		return webhook.ScanEvent{}, err
	}
	t, err := m.occurredAt()
	if err != nil {
		return webhook.ScanEvent{}, err
	}
	return webhook.ScanEvent{
		ScannedAt:  t.UTC(),
		DeviceType: m.DeviceType,
		OS:         m.OS,
		Browser:    m.Browser,
		Country:    m.Country,
		Region:     m.Region,
		City:       m.City,
	}, nil
}

const DLQType = "webhook.delivery.exhausted"

// DeadLetter is published when a delivery runs out of attempts.
type DeadLetter struct {
	Type         string            `json:"type"`    // DLQType
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason       string            `json:"reason"`  // failure classification of the last attempt
	DeliveryID   string            `json:"delivery_id"`
	ConfigID     string            `json:"config_id"`
	EventType    string            `json:"event_type"`
	EventRef     string            `json:"event_ref,omitempty"`
	Attempt      int               `json:"attempt"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewDeadLetter(d *webhook.Delivery, reason string, at time.Time) DeadLetter {
	dl := DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         at.UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		DeliveryID: d.ID,
		ConfigID:   d.ConfigID,
		EventType:  d.EventType,
		Attempt:    d.AttemptNumber,
	}
	if d.EventRef != nil {
		dl.EventRef = *d.EventRef
	}
	if d.HTTPStatus != nil {
		dl.HTTPStatus = *d.HTTPStatus
	}
	if d.ErrorMessage != nil {
		dl.LastError = *d.ErrorMessage
	}
	return dl
}
