package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/austindbirch/qrhook/internal/webhook"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedConfig(t *testing.T, m *Memory, id, resourceID, accountID string) *webhook.Config {
	t.Helper()
	cfg := &webhook.Config{
		ID:               id,
		ResourceID:       resourceID,
		AccountID:        accountID,
		URL:              "https://example.com/hook",
		Secret:           "whsec_test",
		IsActive:         true,
		SubscribedEvents: []string{"scan"},
		CreatedAt:        base,
		UpdatedAt:        base,
	}
	created, err := m.UpsertConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("UpsertConfig() error = %v", err)
	}
	if !created {
		t.Fatalf("UpsertConfig() created = false, want true")
	}
	return cfg
}

func seedDelivery(t *testing.T, m *Memory, id, configID string, status webhook.Status, createdAt time.Time, next *time.Time) {
	t.Helper()
	d := &webhook.Delivery{
		ID:          id,
		ConfigID:    configID,
		EventType:   "scan",
		Payload:     json.RawMessage(`{"delivery_id":"` + id + `"}`),
		Status:      status,
		MaxAttempts: 5,
		NextRetryAt: next,
		CreatedAt:   createdAt,
	}
	if err := m.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("CreateDelivery(%s) error = %v", id, err)
	}
}

func TestMemory_UpsertConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")

	update := &webhook.Config{
		ID:               "cfg_other",
		ResourceID:       "qr_1",
		AccountID:        "acct_1",
		URL:              "https://example.com/v2",
		Secret:           "whsec_new",
		IsActive:         false,
		SubscribedEvents: []string{"scan"},
		UpdatedAt:        base.Add(time.Hour),
	}
	created, err := m.UpsertConfig(ctx, update)
	if err != nil {
		t.Fatalf("UpsertConfig() update error = %v", err)
	}
	if created {
		t.Errorf("UpsertConfig() created = true on update")
	}
	if update.ID != "cfg_1" {
		t.Errorf("update ID = %q, want cfg_1", update.ID)
	}
	if update.Secret != "whsec_test" {
		t.Errorf("secret changed on update: %q", update.Secret)
	}
	got, err := m.GetConfigByResource(ctx, "qr_1")
	if err != nil {
		t.Fatalf("GetConfigByResource() error = %v", err)
	}
	if got.URL != "https://example.com/v2" || got.IsActive {
		t.Errorf("stored config = %+v, want updated url and inactive", got)
	}

	foreign := &webhook.Config{ID: "cfg_x", ResourceID: "qr_1", AccountID: "acct_2", URL: "https://evil.example"}
	if _, err := m.UpsertConfig(ctx, foreign); !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("UpsertConfig() foreign account error = %v, want ErrNotFound", err)
	}
}

func TestMemory_DeleteConfigCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")
	seedDelivery(t, m, "d1", "cfg_1", webhook.StatusSuccess, base, nil)

	if err := m.DeleteConfig(ctx, "cfg_1"); err != nil {
		t.Fatalf("DeleteConfig() error = %v", err)
	}
	if _, err := m.GetDelivery(ctx, "d1"); !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("GetDelivery() after cascade error = %v, want ErrNotFound", err)
	}
	if _, err := m.GetConfigByResource(ctx, "qr_1"); !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("GetConfigByResource() after delete error = %v, want ErrNotFound", err)
	}
	if err := m.DeleteConfig(ctx, "cfg_1"); !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("second DeleteConfig() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_CreateDeliveryRequiresConfig(t *testing.T) {
	m := NewMemory()
	err := m.CreateDelivery(context.Background(), &webhook.Delivery{ID: "d1", ConfigID: "missing"})
	if !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("CreateDelivery() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_SaveAttemptSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")
	seedDelivery(t, m, "done", "cfg_1", webhook.StatusExhausted, base, nil)

	d, _ := m.GetDelivery(ctx, "done")
	d.Status = webhook.StatusFailed
	d.AttemptNumber = 9
	if err := m.SaveAttempt(ctx, d); err != nil {
		t.Fatalf("SaveAttempt() error = %v", err)
	}
	got, _ := m.GetDelivery(ctx, "done")
	if got.Status != webhook.StatusExhausted || got.AttemptNumber != 0 {
		t.Errorf("terminal row changed: status=%s attempt=%d", got.Status, got.AttemptNumber)
	}
}

func TestMemory_ListDueDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")

	early := base.Add(-2 * time.Minute)
	later := base.Add(-time.Minute)
	future := base.Add(time.Minute)
	seedDelivery(t, m, "late", "cfg_1", webhook.StatusFailed, base, &later)
	seedDelivery(t, m, "early", "cfg_1", webhook.StatusFailed, base, &early)
	seedDelivery(t, m, "future", "cfg_1", webhook.StatusFailed, base, &future)
	seedDelivery(t, m, "exhausted", "cfg_1", webhook.StatusExhausted, base, &early)
	seedDelivery(t, m, "no_retry", "cfg_1", webhook.StatusFailed, base, nil)
	seedDelivery(t, m, "pending", "cfg_1", webhook.StatusPending, base, nil)

	due, err := m.ListDueDeliveries(ctx, base, 10)
	if err != nil {
		t.Fatalf("ListDueDeliveries() error = %v", err)
	}
	var ids []string
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	if fmt.Sprint(ids) != "[early late]" {
		t.Errorf("due ids = %v, want [early late]", ids)
	}

	limited, _ := m.ListDueDeliveries(ctx, base, 1)
	if len(limited) != 1 || limited[0].ID != "early" {
		t.Errorf("limited due = %v, want only early", limited)
	}
}

func TestMemory_ListDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")
	seedConfig(t, m, "cfg_2", "qr_2", "acct_1")
	for i := range 5 {
		status := webhook.StatusSuccess
		if i%2 == 1 {
			status = webhook.StatusFailed
		}
		seedDelivery(t, m, fmt.Sprintf("d%d", i), "cfg_1", status, base.Add(time.Duration(i)*time.Minute), nil)
	}
	seedDelivery(t, m, "other", "cfg_2", webhook.StatusSuccess, base, nil)

	tests := []struct {
		name      string
		filter    webhook.DeliveryFilter
		wantIDs   string
		wantTotal int
	}{
		{"newest first", webhook.DeliveryFilter{}, "[d4 d3 d2 d1 d0]", 5},
		{"second page", webhook.DeliveryFilter{Page: 2, PerPage: 2}, "[d2 d1]", 5},
		{"past the end", webhook.DeliveryFilter{Page: 9, PerPage: 2}, "[]", 5},
		{"status filter", webhook.DeliveryFilter{Status: webhook.StatusFailed}, "[d3 d1]", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := m.ListDeliveries(ctx, "cfg_1", tt.filter)
			if err != nil {
				t.Fatalf("ListDeliveries() error = %v", err)
			}
			ids := []string{}
			for _, d := range items {
				ids = append(ids, d.ID)
			}
			if fmt.Sprint(ids) != tt.wantIDs {
				t.Errorf("ids = %v, want %s", ids, tt.wantIDs)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}
}

func TestMemory_DeleteDeliveriesBefore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")
	seedDelivery(t, m, "old", "cfg_1", webhook.StatusFailed, base.Add(-time.Hour), nil)
	seedDelivery(t, m, "boundary", "cfg_1", webhook.StatusSuccess, base, nil)
	seedDelivery(t, m, "new", "cfg_1", webhook.StatusPending, base.Add(time.Hour), nil)

	n, err := m.DeleteDeliveriesBefore(ctx, base)
	if err != nil {
		t.Fatalf("DeleteDeliveriesBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	for _, id := range []string{"boundary", "new"} {
		if _, err := m.GetDelivery(ctx, id); err != nil {
			t.Errorf("GetDelivery(%s) error = %v, want kept", id, err)
		}
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedConfig(t, m, "cfg_1", "qr_1", "acct_1")
	seedDelivery(t, m, "d1", "cfg_1", webhook.StatusPending, base, nil)

	d, _ := m.GetDelivery(ctx, "d1")
	d.Payload[0] = 'X'
	d.Status = webhook.StatusSuccess
	again, _ := m.GetDelivery(ctx, "d1")
	if again.Payload[0] != '{' || again.Status != webhook.StatusPending {
		t.Errorf("stored delivery mutated through returned copy")
	}

	m.AddResource(webhook.Resource{ID: "qr_1", Name: "Menu", ShortCode: "abc"})
	r, err := m.Resource(ctx, "qr_1")
	if err != nil || r.ShortCode != "abc" {
		t.Errorf("Resource() = %+v, %v", r, err)
	}
	if _, err := m.Resource(ctx, "nope"); !errors.Is(err, webhook.ErrNotFound) {
		t.Errorf("Resource(missing) error = %v, want ErrNotFound", err)
	}
}
