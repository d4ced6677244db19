package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/tracing"
	"github.com/austindbirch/qrhook/internal/webhook"
)

// Producer is satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
}

var _ Producer = (*nsq.Producer)(nil)

// NewProducer connects an NSQ producer to nsqd and checks it is reachable.
func NewProducer(nsqdAddr string) (*nsq.Producer, error) {
	prod, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLogger(nil, nsq.LogLevelError)
	if err := prod.Ping(); err != nil {
		prod.Stop()
		return nil, fmt.Errorf("nsq ping %s: %w", nsqdAddr, err)
	}
	return prod, nil
}

// PublishJSON encodes v and publishes it to topic.
func PublishJSON(p Producer, topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	if err := p.Publish(topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishScan publishes a scan message, carrying the trace context of ctx.
// Scan producers outside this repo use it, as does qrhookctl scan send.
func PublishScan(ctx context.Context, p Producer, topic string, m ScanMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.TraceHeaders = tracing.InjectHeaders(ctx)
	return PublishJSON(p, topic, m)
}

// DeadLetterHook returns an exhausted-delivery hook that publishes a
// DeadLetter to topic. Publish failures are logged, never returned: the
// delivery row already records the outcome.
func DeadLetterHook(p Producer, topic string, now func() time.Time) func(ctx context.Context, d *webhook.Delivery, reason string) {
	if now == nil {
		now = time.Now
	}
	logger := logging.New("qrhook-dlq")
	return func(ctx context.Context, d *webhook.Delivery, reason string) {
		dl := NewDeadLetter(d, reason, now())
		dl.TraceHeaders = tracing.InjectHeaders(ctx)
		if err := PublishJSON(p, topic, dl); err != nil {
			tracing.SetSpanError(ctx, err)
			logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("dead letter publish failed")
			return
		}
		tracing.AddSpanEvent(ctx, "nsq.published_dlq")
		logger.WithContext(ctx).WithDelivery(d.ID).WithField("topic", topic).Info("dead letter published")
	}
}
