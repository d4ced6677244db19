package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/tracing"
)

const (
	DefaultTimeout           = 10 * time.Second
	DefaultResponseBodyLimit = 2048
	DefaultUserAgent         = "QRHook-Webhooks/1.0"
)

// Executor performs one HTTP attempt for a delivery and records the outcome.
type Executor struct {
	store       Store
	client      *http.Client
	now         func() time.Time
	backoff     []time.Duration
	userAgent   string
	bodyLimit   int64
	logger      *logging.Logger
	onExhausted func(ctx context.Context, d *Delivery, reason string)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the outbound client. The client's own timeout applies.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithBackoffSchedule sets the retry delays indexed by failed attempt number.
func WithBackoffSchedule(schedule []time.Duration) ExecutorOption {
	return func(e *Executor) {
		if len(schedule) > 0 {
			e.backoff = schedule
		}
	}
}

func WithUserAgent(ua string) ExecutorOption {
	return func(e *Executor) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithResponseBodyLimit caps how many response bytes are kept on the delivery.
func WithResponseBodyLimit(n int64) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.bodyLimit = n
		}
	}
}

func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExhaustedHook registers fn to run after a delivery becomes exhausted.
func WithExhaustedHook(fn func(ctx context.Context, d *Delivery, reason string)) ExecutorOption {
	return func(e *Executor) { e.onExhausted = fn }
}

// NewHTTPClient returns the outbound client used for deliveries: bounded by
// timeout and never following redirects, so a 3xx counts as a failed attempt.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func NewExecutor(store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:     store,
		client:    NewHTTPClient(DefaultTimeout),
		now:       time.Now,
		backoff:   DefaultBackoffSchedule,
		userAgent: DefaultUserAgent,
		bodyLimit: DefaultResponseBodyLimit,
		logger:    logging.New("qrhook-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliver makes at most one HTTP attempt for the delivery and persists the
// result. It reports whether the delivery is now successful. The error is
// non-nil only when the delivery could not be loaded or saved; failed attempts
// are recorded on the row instead.
//
// An attempt cut short by ctx is not counted against the receiver: the row is
// left failed and due immediately, with attempt_number unchanged.
func (e *Executor) Deliver(ctx context.Context, deliveryID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.deliver", attribute.String("delivery_id", deliveryID))
	defer span.End()

	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return false, fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if d.Status.Terminal() {
		return d.Status == StatusSuccess, nil
	}
	span.SetAttributes(
		attribute.String("config_id", d.ConfigID),
		attribute.String("event_type", d.EventType),
		attribute.Int("attempt", d.AttemptNumber+1),
	)

	cfg, err := e.store.GetConfig(ctx, d.ConfigID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, e.recordConfigError(ctx, d, "webhook configuration not found")
	case err != nil:
		tracing.SetSpanError(ctx, err)
		return false, fmt.Errorf("load config %s: %w", d.ConfigID, err)
	case !cfg.IsActive:
		return false, e.recordConfigError(ctx, d, "webhook configuration is inactive")
	}

	res := e.attempt(ctx, cfg, d)
	if res.err != nil && ctx.Err() != nil {
		return false, e.recordInterrupted(ctx, d, ctx.Err())
	}
	now := e.now()
	d.AttemptNumber++
	d.ResponseBody = nil
	if res.body != "" {
		d.ResponseBody = strPtr(res.body)
	}
	d.HTTPStatus = nil
	if res.status > 0 {
		d.HTTPStatus = intPtr(res.status)
	}
	span.SetAttributes(
		attribute.Int("http.status_code", res.status),
		attribute.Int64("http.latency_ms", res.latency.Milliseconds()),
	)

	log := e.logger.WithContext(ctx).WithDelivery(d.ID).WithConfig(d.ConfigID)

	if res.ok() {
		d.Status = StatusSuccess
		d.DeliveredAt = timePtr(now)
		d.NextRetryAt = nil
		d.ErrorMessage = nil
		if err := e.store.SaveAttempt(ctx, d); err != nil {
			tracing.SetSpanError(ctx, err)
			return false, fmt.Errorf("save delivery %s: %w", d.ID, err)
		}
		metrics.RecordDelivery(string(StatusSuccess), res.latency)
		tracing.AddSpanEvent(ctx, "delivery.success")
		log.WithFields(map[string]any{"attempt": d.AttemptNumber, "http_status": res.status}).Info("webhook delivered")
		return true, nil
	}

	reason := classifyReason(res.err, res.status)
	d.ErrorMessage = strPtr(res.errorMessage())
	span.SetAttributes(attribute.String("failure_reason", reason))

	if d.AttemptNumber >= d.MaxAttempts {
		d.Status = StatusExhausted
		d.NextRetryAt = nil
	} else {
		d.Status = StatusFailed
		d.NextRetryAt = timePtr(now.Add(Backoff(e.backoff, d.AttemptNumber)))
	}
	if err := e.store.SaveAttempt(ctx, d); err != nil {
		tracing.SetSpanError(ctx, err)
		return false, fmt.Errorf("save delivery %s: %w", d.ID, err)
	}
	metrics.RecordDelivery(string(d.Status), res.latency)

	log = log.WithFields(map[string]any{
		"attempt":     d.AttemptNumber,
		"http_status": res.status,
		"reason":      reason,
	})
	if d.Status == StatusExhausted {
		metrics.RecordExhausted(reason)
		tracing.AddSpanEvent(ctx, "delivery.exhausted")
		log.Warn("webhook delivery exhausted")
		if e.onExhausted != nil {
			e.onExhausted(ctx, d, reason)
		}
		return false, nil
	}
	metrics.RecordRetry(reason)
	tracing.AddSpanEvent(ctx, "delivery.retry_scheduled", attribute.String("next_retry_at", d.NextRetryAt.Format(time.RFC3339)))
	log.WithField("next_retry_at", d.NextRetryAt.Format(time.RFC3339)).Info("webhook delivery failed, retry scheduled")
	return false, nil
}

// recordConfigError marks the delivery failed without scheduling a retry:
// there is no receiver to retry against.
func (e *Executor) recordConfigError(ctx context.Context, d *Delivery, reason string) error {
	d.Status = StatusFailed
	d.NextRetryAt = nil
	d.ErrorMessage = strPtr(reason)
	if err := e.store.SaveAttempt(ctx, d); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("save delivery %s: %w", d.ID, err)
	}
	metrics.RecordDelivery("config_error", 0)
	e.logger.WithContext(ctx).WithDelivery(d.ID).WithConfig(d.ConfigID).WithField("reason", reason).Warn("webhook delivery skipped")
	return nil
}

// recordInterrupted handles an attempt cut short by the caller's context. The
// receiver is not charged for it: attempt_number is unchanged and the row is
// due again on the next scheduler run.
func (e *Executor) recordInterrupted(ctx context.Context, d *Delivery, cause error) error {
	ctx = context.WithoutCancel(ctx)
	d.Status = StatusFailed
	d.NextRetryAt = timePtr(e.now())
	d.ErrorMessage = strPtr("attempt interrupted: " + cause.Error())
	if err := e.store.SaveAttempt(ctx, d); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("save delivery %s: %w", d.ID, err)
	}
	tracing.AddSpanEvent(ctx, "delivery.interrupted")
	e.logger.WithContext(ctx).WithDelivery(d.ID).WithConfig(d.ConfigID).WithError(cause).Warn("webhook attempt interrupted, delivery left due")
	return nil
}

type attemptResult struct {
	status  int
	body    string
	err     error
	latency time.Duration
}

func (r attemptResult) ok() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

func (r attemptResult) errorMessage() string {
	if r.err != nil {
		return r.err.Error()
	}
	return fmt.Sprintf("unexpected status %d", r.status)
}

func (e *Executor) attempt(ctx context.Context, cfg *Config, d *Delivery) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return attemptResult{err: fmt.Errorf("build request: %w", err)}
	}
	ts := strconv.FormatInt(e.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set(SignatureHeader, "sha256="+Sign(cfg.Secret, d.Payload))
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(EventHeader, d.EventType)
	req.Header.Set(DeliveryHeader, d.ID)

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return attemptResult{err: describeTransportError(err), latency: latency}
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, e.bodyLimit))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return attemptResult{
		status:  resp.StatusCode,
		body:    strings.ToValidUTF8(string(b), ""),
		latency: latency,
	}
}

func describeTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", err)
	}
	return err
}

func classifyReason(err error, status int) string {
	if err != nil {
		errLower := strings.ToLower(err.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "timed out") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		if strings.Contains(errLower, "certificate") || strings.Contains(errLower, "tls") {
			return "tls_error"
		}
		return "network"
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	case status >= 300:
		return "http_3xx"
	}
	return "other"
}
