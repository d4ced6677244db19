package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBuildPayload_Shape(t *testing.T) {
	scan := ScanEvent{
		ScannedAt:  time.Date(2026, 5, 4, 3, 2, 1, 0, time.FixedZone("CET", 3600)),
		DeviceType: "desktop",
		OS:         "macOS",
		Browser:    "Firefox",
		Country:    "DE",
	}
	ref := "scan_123"
	raw, err := BuildPayload("del_1", &ref, scan, Resource{ID: "qr_1", Name: "Menu", ShortCode: "abc123"})
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}

	var got struct {
		DeliveryID string `json:"delivery_id"`
		Event      struct {
			Type string         `json:"type"`
			ID   *string        `json:"id"`
			Data map[string]any `json:"data"`
		} `json:"event"`
		Resource map[string]string `json:"resource"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.DeliveryID != "del_1" {
		t.Errorf("delivery_id = %q", got.DeliveryID)
	}
	if got.Event.Type != "scan" || got.Event.ID == nil || *got.Event.ID != "scan_123" {
		t.Errorf("event = %+v", got.Event)
	}
	if ts := got.Event.Data["timestamp"]; ts != "2026-05-04T02:02:01Z" {
		t.Errorf("timestamp = %v, want UTC RFC3339", ts)
	}
	if got.Event.Data["country"] != "DE" {
		t.Errorf("country = %v", got.Event.Data["country"])
	}
	for _, k := range []string{"region", "city"} {
		v, ok := got.Event.Data[k]
		if !ok || v != nil {
			t.Errorf("%s = %v (present %v), want explicit null", k, v, ok)
		}
	}
	if got.Resource["short_code"] != "abc123" || got.Resource["name"] != "Menu" {
		t.Errorf("resource = %v", got.Resource)
	}
}

func TestBuildPayload_Defaults(t *testing.T) {
	raw, err := BuildPayload("del_2", nil, &ScanEvent{ScannedAt: time.Unix(0, 0)}, Resource{ID: "qr_1"})
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}
	for _, want := range []string{
		`"id":null`,
		`"device_type":"unknown"`,
		`"os":"unknown"`,
		`"browser":"unknown"`,
		`"country":null`,
	} {
		if !bytes.Contains(raw, []byte(want)) {
			t.Errorf("payload %s missing %s", raw, want)
		}
	}
}

func TestBuildPayload_Deterministic(t *testing.T) {
	ev := TestScanEvent(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	res := Resource{ID: "qr_1", Name: "Menu", ShortCode: "abc"}
	a, _ := BuildPayload("del_1", nil, ev, res)
	b, _ := BuildPayload("del_1", nil, ev, res)
	if !bytes.Equal(a, b) {
		t.Errorf("payloads differ:\n%s\n%s", a, b)
	}
}

type unknownEvent struct{}

func (unknownEvent) EventType() string { return "unknown" }

func TestBuildPayload_UnsupportedEvent(t *testing.T) {
	if _, err := BuildPayload("del_1", nil, unknownEvent{}, Resource{}); err == nil {
		t.Error("BuildPayload() expected error for unsupported event")
	}
}

func TestBuildPayload_PointerEvents(t *testing.T) {
	scan := ScanEvent{ScannedAt: time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)}
	byValue, err := BuildPayload("del_1", nil, scan, Resource{ID: "qr_1"})
	if err != nil {
		t.Fatalf("BuildPayload(value) error = %v", err)
	}
	byPointer, err := BuildPayload("del_1", nil, &scan, Resource{ID: "qr_1"})
	if err != nil {
		t.Fatalf("BuildPayload(pointer) error = %v", err)
	}
	if !bytes.Equal(byValue, byPointer) {
		t.Errorf("pointer payload %s differs from value payload %s", byPointer, byValue)
	}

	for _, ev := range []Event{nil, (*ScanEvent)(nil)} {
		if _, err := BuildPayload("del_1", nil, ev, Resource{}); !errors.Is(err, errNilEvent) {
			t.Errorf("BuildPayload(%#v) error = %v, want errNilEvent", ev, err)
		}
	}
}
