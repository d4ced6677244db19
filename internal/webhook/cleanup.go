package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/tracing"
)

// DefaultRetention is how long delivery history is kept.
const DefaultRetention = 30 * 24 * time.Hour

// CleanupResult reports one retention run.
type CleanupResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// Cleanup purges delivery history older than the retention window, whatever its state.
type Cleanup struct {
	store     Store
	retention time.Duration
	now       func() time.Time
	logger    *logging.Logger
}

// NewCleanup builds the retention job. now may be nil to use time.Now.
func NewCleanup(store Store, retention time.Duration, now func() time.Time) *Cleanup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Cleanup{
		store:     store,
		retention: retention,
		now:       now,
		logger:    logging.New("qrhook-cleanup"),
	}
}

func (c *Cleanup) Run(ctx context.Context) (CleanupResult, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.cleanup")
	defer span.End()

	cutoff := c.now().UTC().Add(-c.retention)
	n, err := c.store.DeleteDeliveriesBefore(ctx, cutoff)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordJobRun("cleanup", "error")
		return CleanupResult{Cutoff: cutoff}, fmt.Errorf("delete deliveries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RecordJobRun("cleanup", "ok")
	metrics.RecordCleanup(n)
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("webhook delivery cleanup complete")
	return CleanupResult{Deleted: n, Cutoff: cutoff}, nil
}
