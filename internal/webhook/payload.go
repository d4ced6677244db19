package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventTypeScan is the only event type currently produced.
const EventTypeScan = "scan"

// KnownEventTypes lists the event types a configuration may subscribe to.
var KnownEventTypes = []string{EventTypeScan}

// Event is a tagged variant: EventType is the discriminant, the concrete type
// carries the type-specific fields.
type Event interface {
	EventType() string
}

// ScanEvent describes one scan of a QR code. Location fields are coarse and optional.
type ScanEvent struct {
	ScannedAt  time.Time
	DeviceType string
	OS         string
	Browser    string
	Country    string
	Region     string
	City       string
}

func (ScanEvent) EventType() string { return EventTypeScan }

type payloadEnvelope struct {
	DeliveryID string          `json:"delivery_id"`
	Event      payloadEvent    `json:"event"`
	Resource   payloadResource `json:"resource"`
}

type payloadEvent struct {
	Type string  `json:"type"`
	ID   *string `json:"id"`
	Data any     `json:"data"`
}

type payloadResource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortCode string `json:"short_code"`
}

type scanData struct {
	Timestamp  string  `json:"timestamp"`
	DeviceType string  `json:"device_type"`
	OS         string  `json:"os"`
	Browser    string  `json:"browser"`
	Country    *string `json:"country"`
	Region     *string `json:"region"`
	City       *string `json:"city"`
}

var errNilEvent = errors.New("event is nil")

// derefEvent turns pointer events into values and rejects nil ones.
func derefEvent(ev Event) (Event, error) {
	switch e := ev.(type) {
	case nil:
		return nil, errNilEvent
	case *ScanEvent:
		if e == nil {
			return nil, errNilEvent
		}
		return *e, nil
	}
	return ev, nil
}

// BuildPayload assembles the JSON envelope for a delivery. It is deterministic
// for its inputs; the result is stored once and resent verbatim on every attempt.
func BuildPayload(deliveryID string, eventRef *string, ev Event, res Resource) (json.RawMessage, error) {
	ev, err := derefEvent(ev)
	if err != nil {
		return nil, err
	}
	var data any
	switch e := ev.(type) {
	case ScanEvent:
		data = scanData{
			Timestamp:  e.ScannedAt.UTC().Format(time.RFC3339),
			DeviceType: orUnknown(e.DeviceType),
			OS:         orUnknown(e.OS),
			Browser:    orUnknown(e.Browser),
			Country:    optional(e.Country),
			Region:     optional(e.Region),
			City:       optional(e.City),
		}
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}

	env := payloadEnvelope{
		DeliveryID: deliveryID,
		Event: payloadEvent{
			Type: ev.EventType(),
			ID:   eventRef,
			Data: data,
		},
		Resource: payloadResource{
			ID:        res.ID,
			Name:      res.Name,
			ShortCode: res.ShortCode,
		},
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// TestScanEvent is the fixed mock data sent by the test-delivery trigger.
func TestScanEvent(now time.Time) ScanEvent {
	return ScanEvent{
		ScannedAt:  now,
		DeviceType: "mobile",
		OS:         "iOS",
		Browser:    "Safari",
		Country:    "US",
		Region:     "California",
		City:       "San Francisco",
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
