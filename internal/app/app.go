// Package app assembles the webhook components from configuration for the
// qrhook binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/austindbirch/qrhook/internal/auth"
	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/tracing"
	"github.com/austindbirch/qrhook/internal/webhook"
)

// Webhooks bundles the delivery components that share one store.
type Webhooks struct {
	Executor  *webhook.Executor
	Service   *webhook.Service
	Scheduler *webhook.RetryScheduler
	Cleanup   *webhook.Cleanup
}

// NewWebhooks builds the executor, service and batch jobs from cfg. extra
// options are applied after the configured ones.
func NewWebhooks(cfg config.Config, st webhook.Store, res webhook.Resources, extra ...webhook.ExecutorOption) *Webhooks {
	opts := []webhook.ExecutorOption{
		webhook.WithHTTPClient(webhook.NewHTTPClient(cfg.Delivery.Timeout)),
		webhook.WithBackoffSchedule(cfg.Delivery.BackoffSchedule),
		webhook.WithUserAgent(cfg.Delivery.UserAgent),
		webhook.WithResponseBodyLimit(cfg.Delivery.ResponseBodyLimit),
	}
	exec := webhook.NewExecutor(st, append(opts, extra...)...)
	return &Webhooks{
		Executor:  exec,
		Service:   webhook.NewService(st, res, exec, cfg.Delivery.MaxAttempts),
		Scheduler: webhook.NewRetryScheduler(st, exec, cfg.Jobs.RetryBatchSize, cfg.Jobs.RetryPace),
		Cleanup:   webhook.NewCleanup(st, cfg.Jobs.Retention, nil),
	}
}

var errNoAuth = errors.New("no JWT_PUBLIC_KEY or JWT_JWKS_URL configured and gateway header not trusted")

// NewAuthenticator builds the dashboard token validator. A static public key
// wins over a JWKS URL. With neither, only a trusted gateway header can
// authenticate.
func NewAuthenticator(ctx context.Context, cfg config.Auth, client *http.Client) (*auth.JWTValidator, error) {
	var v *auth.JWTValidator
	switch {
	case cfg.PublicKeyPEM != "":
		var err error
		if v, err = auth.NewJWTValidator(cfg.PublicKeyPEM, cfg.Issuer, cfg.Audience); err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
		}
	case cfg.JWKSURL != "":
		fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		keys, err := auth.FetchJWKS(fctx, client, cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("JWT_JWKS_URL: %w", err)
		}
		v = auth.NewKeySetValidator(keys, cfg.Issuer, cfg.Audience)
	case cfg.TrustGatewayHeader:
		v = auth.NewKeySetValidator(nil, cfg.Issuer, cfg.Audience)
	default:
		return nil, errNoAuth
	}
	return v.TrustGateway(cfg.TrustGatewayHeader), nil
}

// TracingOptions maps configuration onto tracer setup for service.
func TracingOptions(cfg config.Config, service string) tracing.Options {
	return tracing.Options{
		ServiceName: service,
		Version:     cfg.Tracing.Version,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}
}
