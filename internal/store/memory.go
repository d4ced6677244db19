package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/austindbirch/qrhook/internal/webhook"
)

// Memory is an in-memory webhook store used by tests and when no database is configured.
type Memory struct {
	mu         sync.Mutex
	configs    map[string]webhook.Config   // id -> config
	byResource map[string]string           // resource id -> config id
	deliveries map[string]webhook.Delivery // id -> delivery
	resources  map[string]webhook.Resource // id -> qr code summary
}

func NewMemory() *Memory {
	return &Memory{
		configs:    map[string]webhook.Config{},
		byResource: map[string]string{},
		deliveries: map[string]webhook.Delivery{},
		resources:  map[string]webhook.Resource{},
	}
}

// AddResource registers a QR code summary for payload building.
func (m *Memory) AddResource(r webhook.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *Memory) Resource(_ context.Context, resourceID string) (webhook.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resourceID]
	if !ok {
		return webhook.Resource{}, webhook.ErrNotFound
	}
	return r, nil
}

func (m *Memory) GetConfig(_ context.Context, id string) (*webhook.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return cloneConfig(c), nil
}

func (m *Memory) GetConfigByResource(_ context.Context, resourceID string) (*webhook.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byResource[resourceID]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return cloneConfig(m.configs[id]), nil
}

func (m *Memory) UpsertConfig(_ context.Context, cfg *webhook.Config) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byResource[cfg.ResourceID]; ok {
		cur := m.configs[id]
		if cur.AccountID != cfg.AccountID {
			return false, webhook.ErrNotFound
		}
		cur.URL = cfg.URL
		cur.IsActive = cfg.IsActive
		cur.SubscribedEvents = slices.Clone(cfg.SubscribedEvents)
		cur.UpdatedAt = cfg.UpdatedAt
		m.configs[id] = cur
		*cfg = *cloneConfig(cur)
		return false, nil
	}
	c := *cloneConfig(*cfg)
	m.configs[c.ID] = c
	m.byResource[c.ResourceID] = c.ID
	return true, nil
}

func (m *Memory) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return webhook.ErrNotFound
	}
	delete(m.configs, id)
	delete(m.byResource, c.ResourceID)
	for did, d := range m.deliveries {
		if d.ConfigID == id {
			delete(m.deliveries, did)
		}
	}
	return nil
}

func (m *Memory) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[d.ConfigID]; !ok {
		return webhook.ErrNotFound
	}
	m.deliveries[d.ID] = *cloneDelivery(*d)
	return nil
}

func (m *Memory) GetDelivery(_ context.Context, id string) (*webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	return cloneDelivery(d), nil
}

func (m *Memory) SaveAttempt(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return webhook.ErrNotFound
	}
	if cur.Status.Terminal() {
		return nil
	}
	cur.Status = d.Status
	cur.HTTPStatus = d.HTTPStatus
	cur.ResponseBody = d.ResponseBody
	cur.ErrorMessage = d.ErrorMessage
	cur.AttemptNumber = d.AttemptNumber
	cur.NextRetryAt = d.NextRetryAt
	cur.DeliveredAt = d.DeliveredAt
	m.deliveries[d.ID] = cur
	return nil
}

func (m *Memory) ListDueDeliveries(_ context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []webhook.Delivery
	for _, d := range m.deliveries {
		if d.Status == webhook.StatusFailed && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			due = append(due, *cloneDelivery(d))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRetryAt.Equal(*due[j].NextRetryAt) {
			return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ListDeliveries(_ context.Context, configID string, f webhook.DeliveryFilter) ([]webhook.Delivery, int, error) {
	f = f.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []webhook.Delivery
	for _, d := range m.deliveries {
		if d.ConfigID != configID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	start := min(f.Offset(), total)
	end := min(start+f.PerPage, total)
	out := make([]webhook.Delivery, 0, end-start)
	for _, d := range all[start:end] {
		out = append(out, *cloneDelivery(d))
	}
	return out, total, nil
}

func (m *Memory) DeleteDeliveriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.deliveries {
		if d.CreatedAt.Before(cutoff) {
			delete(m.deliveries, id)
			n++
		}
	}
	return n, nil
}

func cloneConfig(c webhook.Config) *webhook.Config {
	c.SubscribedEvents = slices.Clone(c.SubscribedEvents)
	return &c
}

func cloneDelivery(d webhook.Delivery) *webhook.Delivery {
	d.Payload = slices.Clone(d.Payload)
	return &d
}
