package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/webhook"
)

// receiver is a local webhook endpoint for exercising deliveries and retries.
type receiver struct {
	cfg      config.FakeReceiver
	reqCount atomic.Int64
	now      func() time.Time
	logger   *logging.Logger
}

func newReceiver(cfg config.FakeReceiver) *receiver {
	return &receiver{cfg: cfg, now: time.Now, logger: logging.New("qrhook-fake-receiver")}
}

func main() {
	cfg, err := config.FromEnv()
	logger := logging.New("qrhook-fake-receiver")
	if err != nil {
		logger.Plain().WithError(err).Fatal("config load failed")
	}
	rc := newReceiver(cfg.FakeReceiver)

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":         srv.Addr,
			"fail_first_n": cfg.FakeReceiver.FailFirstN,
			"verify":       cfg.FakeReceiver.EndpointSecret != "",
		}).Info("fake-receiver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("fake-receiver serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Plain().Info("fake-receiver stopped")
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	log := rc.logger.Plain().WithFields(map[string]any{
		"request":     n,
		"event":       r.Header.Get(webhook.EventHeader),
		"delivery_id": r.Header.Get(webhook.DeliveryHeader),
	})

	if rc.cfg.EndpointSecret != "" {
		err := webhook.VerifyRequest(rc.cfg.EndpointSecret, b,
			r.Header.Get(webhook.SignatureHeader), r.Header.Get(webhook.TimestampHeader),
			rc.now(), rc.cfg.SigningTolerance)
		if err != nil {
			log.WithError(err).Warn("signature verification failed")
			http.Error(w, "invalid signature: "+err.Error(), http.StatusUnauthorized)
			return
		}
	}

	if rc.cfg.ResponseDelay > 0 {
		select {
		case <-time.After(rc.cfg.ResponseDelay):
		case <-r.Context().Done():
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		log.WithField("body", truncate(string(b), 160)).Infof("failing request %d/%d", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.WithField("body", truncate(string(b), 160)).Info("webhook received")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
