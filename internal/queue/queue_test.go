package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/qrhook/internal/webhook"
)

type published struct {
	topic string
	body  []byte
}

type fakeProducer struct {
	msgs []published
	err  error
}

func (f *fakeProducer) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, body: body})
	return nil
}

type notifyCall struct {
	resourceID string
	eventRef   string
	event      webhook.ScanEvent
}

type fakeNotifier struct {
	calls []notifyCall
	err   error
	skip  bool
}

func (f *fakeNotifier) Notify(_ context.Context, resourceID string, eventRef *string, ev webhook.Event) (*webhook.Delivery, error) {
	call := notifyCall{resourceID: resourceID, event: ev.(webhook.ScanEvent)}
	if eventRef != nil {
		call.eventRef = *eventRef
	}
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if f.skip {
		return nil, nil
	}
	return &webhook.Delivery{ID: "dlv_1", Status: webhook.StatusSuccess}, nil
}

type memDedupe struct {
	seen map[string]bool
	err  error
}

func (m *memDedupe) FirstSeen(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func scanMessage() ScanMessage {
	return ScanMessage{
		EventID:    "evt_1",
		ResourceID: "qr_1",
		OccurredAt: "2026-03-01T12:00:00Z",
		DeviceType: "mobile",
		OS:         "iOS",
		Browser:    "Safari",
		Country:    "US",
	}
}

func message(t *testing.T, v any, attempts uint16) *nsq.Message {
	t.Helper()
	var body []byte
	switch b := v.(type) {
	case string:
		body = []byte(b)
	default:
		var err error
		if body, err = json.Marshal(v); err != nil {
			t.Fatal(err)
		}
	}
	m := nsq.NewMessage(nsq.MessageID{}, body)
	m.Attempts = attempts
	return m
}

func TestScanMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ScanMessage)
		wantErr bool
	}{
		{"valid", func(*ScanMessage) {}, false},
		{"fractional seconds", func(m *ScanMessage) { m.OccurredAt = "2026-03-01T12:00:00.123456Z" }, false},
		{"missing event id", func(m *ScanMessage) { m.EventID = "" }, true},
		{"missing resource", func(m *ScanMessage) { m.ResourceID = "" }, true},
		{"missing time", func(m *ScanMessage) { m.OccurredAt = "" }, true},
		{"bad time", func(m *ScanMessage) { m.OccurredAt = "yesterday" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := scanMessage()
			tt.mutate(&m)
			if err := m.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScanMessage_Event(t *testing.T) {
	m := scanMessage()
	m.OccurredAt = "2026-03-01T14:00:00+02:00"
	ev, err := m.Event()
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !ev.ScannedAt.Equal(want) || ev.ScannedAt.Location() != time.UTC {
		t.Errorf("ScannedAt = %v, want %v", ev.ScannedAt, want)
	}
	if ev.DeviceType != "mobile" || ev.OS != "iOS" || ev.Browser != "Safari" || ev.Country != "US" || ev.City != "" {
		t.Errorf("event = %+v", ev)
	}

	m.EventID = ""
	if _, err := m.Event(); err == nil {
		t.Error("Event() accepted a message without event_id")
	}
}

func TestNewDeadLetter(t *testing.T) {
	ref := "evt_9"
	status := 503
	msg := "unexpected status 503"
	d := &webhook.Delivery{
		ID:            "dlv_9",
		ConfigID:      "cfg_1",
		EventType:     webhook.EventTypeScan,
		EventRef:      &ref,
		AttemptNumber: 5,
		HTTPStatus:    &status,
		ErrorMessage:  &msg,
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dl := NewDeadLetter(d, "http_5xx", at)

	if dl.Type != DLQType || dl.Version != "v1" {
		t.Errorf("type/version = %s/%s", dl.Type, dl.Version)
	}
	if dl.At != "2026-03-01T12:00:00Z" {
		t.Errorf("At = %s", dl.At)
	}
	if dl.DeliveryID != "dlv_9" || dl.ConfigID != "cfg_1" || dl.EventRef != "evt_9" {
		t.Errorf("ids = %+v", dl)
	}
	if dl.Attempt != 5 || dl.HTTPStatus != 503 || dl.LastError != msg || dl.Reason != "http_5xx" {
		t.Errorf("outcome = %+v", dl)
	}

	bare := NewDeadLetter(&webhook.Delivery{ID: "dlv_test"}, "timeout", at)
	if bare.EventRef != "" || bare.HTTPStatus != 0 || bare.LastError != "" {
		t.Errorf("nil fields not left empty: %+v", bare)
	}
}

func TestPublishScan(t *testing.T) {
	p := &fakeProducer{}
	if err := PublishScan(context.Background(), p, "scans", scanMessage()); err != nil {
		t.Fatalf("PublishScan() error = %v", err)
	}
	if len(p.msgs) != 1 || p.msgs[0].topic != "scans" {
		t.Fatalf("published = %+v", p.msgs)
	}
	var got ScanMessage
	if err := json.Unmarshal(p.msgs[0].body, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventID != "evt_1" || got.ResourceID != "qr_1" {
		t.Errorf("decoded = %+v", got)
	}

	bad := scanMessage()
	bad.EventID = ""
	if err := PublishScan(context.Background(), p, "scans", bad); err == nil {
		t.Error("PublishScan() accepted an invalid message")
	}
	if len(p.msgs) != 1 {
		t.Errorf("invalid message was published")
	}

	failing := &fakeProducer{err: errors.New("nsqd unavailable")}
	if err := PublishScan(context.Background(), failing, "scans", scanMessage()); err == nil {
		t.Error("PublishScan() swallowed a producer error")
	}
}

func TestDeadLetterHook(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProducer{}
	hook := DeadLetterHook(p, "webhook_deliveries_dlq", func() time.Time { return at })
	hook(context.Background(), &webhook.Delivery{ID: "dlv_1", AttemptNumber: 5}, "timeout")

	if len(p.msgs) != 1 || p.msgs[0].topic != "webhook_deliveries_dlq" {
		t.Fatalf("published = %+v", p.msgs)
	}
	var dl DeadLetter
	if err := json.Unmarshal(p.msgs[0].body, &dl); err != nil {
		t.Fatal(err)
	}
	if dl.DeliveryID != "dlv_1" || dl.Reason != "timeout" || dl.Attempt != 5 {
		t.Errorf("dead letter = %+v", dl)
	}

	// Publish errors are logged, not raised.
	DeadLetterHook(&fakeProducer{err: errors.New("down")}, "dlq", nil)(context.Background(), &webhook.Delivery{ID: "dlv_2"}, "timeout")
}

func TestScanHandler_HandleMessage(t *testing.T) {
	dup := scanMessage()
	invalid := scanMessage()
	invalid.ResourceID = ""
	badTime := scanMessage()
	badTime.OccurredAt = "yesterday"

	tests := []struct {
		name      string
		messages  []*nsq.Message
		notifyErr error
		dedupeErr error
		wantErr   []bool
		wantCalls int
	}{
		{
			name:      "malformed json is finished",
			messages:  []*nsq.Message{message(t, "{", 1)},
			wantErr:   []bool{false},
			wantCalls: 0,
		},
		{
			name:      "missing fields are finished",
			messages:  []*nsq.Message{message(t, invalid, 1)},
			wantErr:   []bool{false},
			wantCalls: 0,
		},
		{
			name:      "unparseable occurred_at is finished",
			messages:  []*nsq.Message{message(t, badTime, 1)},
			wantErr:   []bool{false},
			wantCalls: 0,
		},
		{
			name:      "duplicate event notifies once",
			messages:  []*nsq.Message{message(t, dup, 1), message(t, dup, 1)},
			wantErr:   []bool{false, false},
			wantCalls: 1,
		},
		{
			name:      "requeued message skips dedupe",
			messages:  []*nsq.Message{message(t, dup, 1), message(t, dup, 2)},
			wantErr:   []bool{false, false},
			wantCalls: 2,
		},
		{
			name:      "dedupe outage still notifies",
			messages:  []*nsq.Message{message(t, dup, 1)},
			dedupeErr: errors.New("redis down"),
			wantErr:   []bool{false},
			wantCalls: 1,
		},
		{
			name:      "store failure requeues",
			messages:  []*nsq.Message{message(t, dup, 1)},
			notifyErr: errors.New("db down"),
			wantErr:   []bool{true},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{err: tt.notifyErr}
			h := NewScanHandler(context.Background(), n, &memDedupe{seen: map[string]bool{}, err: tt.dedupeErr})
			for i, m := range tt.messages {
				err := h.HandleMessage(m)
				if (err != nil) != tt.wantErr[i] {
					t.Errorf("message %d: error = %v, wantErr %v", i, err, tt.wantErr[i])
				}
			}
			if len(n.calls) != tt.wantCalls {
				t.Fatalf("notify calls = %d, want %d", len(n.calls), tt.wantCalls)
			}
			for _, c := range n.calls {
				if c.resourceID != "qr_1" || c.eventRef != "evt_1" {
					t.Errorf("notify call = %+v", c)
				}
				if c.event.DeviceType != "mobile" {
					t.Errorf("event = %+v", c.event)
				}
			}
		})
	}
}

func TestScanHandler_NilDeduper(t *testing.T) {
	n := &fakeNotifier{skip: true}
	h := NewScanHandler(context.Background(), n, nil)
	for i := 0; i < 2; i++ {
		if err := h.HandleMessage(message(t, scanMessage(), 1)); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}
	if len(n.calls) != 2 {
		t.Errorf("notify calls = %d, want 2 without dedupe", len(n.calls))
	}
}
