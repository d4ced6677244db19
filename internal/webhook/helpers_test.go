package webhook_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/qrhook/internal/store"
	"github.com/austindbirch/qrhook/internal/webhook"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// receiver is a TLS webhook endpoint that records every request it gets.
type receiver struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []received
}

type received struct {
	header http.Header
	body   []byte
}

func newReceiver(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.requests = append(rc.requests, received{header: r.Header.Clone(), body: body})
		rc.mu.Unlock()
		handler(w, r, body)
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

func respond(status int, body string) func(http.ResponseWriter, *http.Request, []byte) {
	return func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (rc *receiver) Requests() []received {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]received(nil), rc.requests...)
}

// client trusts the test certificate and never follows redirects.
func (rc *receiver) client(timeout time.Duration) *http.Client {
	c := rc.srv.Client()
	c.Timeout = timeout
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

type fixture struct {
	store    *store.Memory
	clock    *clock
	executor *webhook.Executor
	service  *webhook.Service
}

func newFixture(t *testing.T, rc *receiver, opts ...webhook.ExecutorOption) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.AddResource(webhook.Resource{ID: "qr_1", Name: "Spring Menu", ShortCode: "menu26"})
	clk := newClock()
	base := []webhook.ExecutorOption{webhook.WithClock(clk.Now)}
	if rc != nil {
		base = append(base, webhook.WithHTTPClient(rc.client(2*time.Second)))
	}
	exec := webhook.NewExecutor(mem, append(base, opts...)...)
	return &fixture{
		store:    mem,
		clock:    clk,
		executor: exec,
		service:  webhook.NewService(mem, mem, exec, webhook.DefaultMaxAttempts, webhook.WithServiceClock(clk.Now)),
	}
}

// seedConfig stores a configuration pointing at url directly, skipping the URL
// guard so loopback test servers can be targeted.
func (f *fixture) seedConfig(t *testing.T, resourceID, url string, active bool) *webhook.Config {
	t.Helper()
	now := f.clock.Now()
	cfg := &webhook.Config{
		ID:               "cfg_" + resourceID,
		ResourceID:       resourceID,
		AccountID:        "acct_1",
		URL:              url,
		Secret:           "whsec_fixture",
		IsActive:         active,
		SubscribedEvents: []string{webhook.EventTypeScan},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := f.store.UpsertConfig(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return cfg
}

func (f *fixture) delivery(t *testing.T, id string) *webhook.Delivery {
	t.Helper()
	d, err := f.store.GetDelivery(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDelivery(%s): %v", id, err)
	}
	return d
}

func scan() webhook.ScanEvent {
	return webhook.ScanEvent{
		ScannedAt:  time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		DeviceType: "mobile",
		OS:         "Android",
		Browser:    "Chrome",
		Country:    "NL",
	}
}

func ref(s string) *string { return &s }
