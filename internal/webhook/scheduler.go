package webhook

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/tracing"
)

const (
	DefaultRetryBatchSize = 50
	DefaultRetryPace      = 100 * time.Millisecond
)

// RetrySummary reports what one scheduler invocation did.
type RetrySummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryScheduler re-attempts failed deliveries whose retry time has come. It
// keeps no state between runs and is driven by an external periodic trigger.
//
// Rows are not claimed before they are attempted, so two overlapping runs can
// send the same delivery twice. Receivers dedupe on delivery_id.
type RetryScheduler struct {
	store     Store
	executor  *Executor
	batchSize int
	pace      time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
	logger    *logging.Logger
}

// SchedulerOption configures a RetryScheduler.
type SchedulerOption func(*RetryScheduler)

// WithSchedulerClock overrides time.Now when selecting due deliveries.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *RetryScheduler) { s.now = now }
}

// WithPause overrides how the scheduler waits between attempts.
func WithPause(sleep func(ctx context.Context, d time.Duration)) SchedulerOption {
	return func(s *RetryScheduler) { s.sleep = sleep }
}

// NewRetryScheduler builds a scheduler. A non-positive batchSize selects the
// default of 50; a negative pace selects the default 100ms.
func NewRetryScheduler(store Store, executor *Executor, batchSize int, pace time.Duration, opts ...SchedulerOption) *RetryScheduler {
	if batchSize <= 0 {
		batchSize = DefaultRetryBatchSize
	}
	if pace < 0 {
		pace = DefaultRetryPace
	}
	s := &RetryScheduler{
		store:     store,
		executor:  executor,
		batchSize: batchSize,
		pace:      pace,
		now:       time.Now,
		sleep:     sleepContext,
		logger:    logging.New("qrhook-scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes one batch of due deliveries sequentially, oldest due first,
// pausing between attempts to bound the outbound request rate.
func (s *RetryScheduler) Run(ctx context.Context) (RetrySummary, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.retry_scheduler")
	defer span.End()

	var sum RetrySummary
	due, err := s.store.ListDueDeliveries(ctx, s.now(), s.batchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordJobRun("retry", "error")
		return sum, fmt.Errorf("list due deliveries: %w", err)
	}
	span.SetAttributes(attribute.Int("batch_size", len(due)))

	for i, d := range due {
		if i > 0 && s.pace > 0 {
			s.sleep(ctx, s.pace)
		}
		if ctx.Err() != nil {
			break
		}
		sum.Processed++
		ok, err := s.executor.Deliver(ctx, d.ID)
		if err != nil {
			s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("retry attempt could not be recorded")
		}
		if ok {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("processed", sum.Processed),
		attribute.Int("succeeded", sum.Succeeded),
		attribute.Int("failed", sum.Failed),
	)
	metrics.RecordJobRun("retry", "ok")
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": sum.Processed,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
	}).Info("webhook retry run complete")
	return sum, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
