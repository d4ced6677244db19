package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/qrhook/internal/dedupe"
	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/tracing"
	"github.com/austindbirch/qrhook/internal/webhook"
)

// Notifier is implemented by *webhook.Service.
type Notifier interface {
	Notify(ctx context.Context, resourceID string, eventRef *string, ev webhook.Event) (*webhook.Delivery, error)
}

// ScanHandler consumes scan messages and hands them to the notification service.
type ScanHandler struct {
	ctx      context.Context
	notifier Notifier
	dedupe   dedupe.Deduper
	logger   *logging.Logger
}

// NewScanHandler builds the consumer handler. ctx bounds every message; a nil
// deduper disables duplicate suppression.
func NewScanHandler(ctx context.Context, n Notifier, d dedupe.Deduper) *ScanHandler {
	if d == nil {
		d = dedupe.None{}
	}
	return &ScanHandler{
		ctx:      ctx,
		notifier: n,
		dedupe:   d,
		logger:   logging.New("qrhook-worker"),
	}
}

var _ nsq.Handler = (*ScanHandler)(nil)

// HandleMessage returns an error only for failures worth requeueing. Malformed
// messages and duplicates are finished. Delivery failures never surface here.
func (h *ScanHandler) HandleMessage(m *nsq.Message) error {
	var msg ScanMessage
	if err := json.Unmarshal(m.Body, &msg); err != nil {
		h.logger.Plain().WithError(err).Error("bad scan payload")
		metrics.RecordScanEvent("invalid")
		return nil
	}
	ev, err := msg.Event()
	if err != nil {
		h.logger.Plain().WithEvent(msg.EventID).WithError(err).Error("bad scan payload")
		metrics.RecordScanEvent("invalid")
		return nil
	}

	ctx := tracing.ExtractHeaders(h.ctx, msg.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.scan",
		attribute.String("event_id", msg.EventID),
		attribute.String("resource_id", msg.ResourceID),
		attribute.Int("nsq.attempts", int(m.Attempts)),
	)
	defer span.End()
	log := h.logger.WithContext(ctx).WithEvent(msg.EventID).WithResource(msg.ResourceID)

	// Requeued messages already claimed their event id on the first attempt.
	if m.Attempts <= 1 {
		first, err := h.dedupe.FirstSeen(ctx, msg.EventID)
		if err != nil {
			log.WithError(err).Warn("dedupe check failed, notifying anyway")
		} else if !first {
			metrics.RecordScanEvent("duplicate")
			tracing.AddSpanEvent(ctx, "scan.duplicate")
			log.Debug("duplicate scan event skipped")
			return nil
		}
	}

	eventRef := msg.EventID
	d, err := h.notifier.Notify(ctx, msg.ResourceID, &eventRef, ev)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordScanEvent("error")
		log.WithError(err).Error("scan notification failed")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("notify resource %s: %w", msg.ResourceID, err)
	}
	if d == nil {
		metrics.RecordScanEvent("skipped")
		return nil
	}
	metrics.RecordScanEvent("notified")
	log.WithDelivery(d.ID).WithField("status", string(d.Status)).Info("scan notification recorded")
	return nil
}
