package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/qrhook/internal/app"
	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/db"
	"github.com/austindbirch/qrhook/internal/dedupe"
	"github.com/austindbirch/qrhook/internal/health"
	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/queue"
	"github.com/austindbirch/qrhook/internal/store"
	"github.com/austindbirch/qrhook/internal/tracing"
	"github.com/austindbirch/qrhook/internal/webhook"
)

const serviceName = "qrhook-worker"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logging.SetDefaultService(serviceName)
	logger := logging.New(serviceName)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("config load failed")
	}

	shutdownTracing, err := tracing.InitTracing(ctx, app.TracingOptions(cfg, serviceName))
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	st := store.NewPostgres(pool)
	deps := map[string]health.Pinger{"database": pool}

	var deduper dedupe.Deduper = dedupe.None{}
	if cfg.Redis.URL != "" {
		rdb, err := dedupe.Open(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Plain().WithError(err).Fatal("redis connect failed")
		}
		defer rdb.Close()
		deduper = dedupe.NewRedis(rdb, "qrhook:scan:", cfg.Redis.DedupeTTL)
		deps["redis"] = health.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		logger.Plain().Warn("REDIS_URL is not set, scan events are not deduplicated")
	}

	var execOpts []webhook.ExecutorOption
	if cfg.NSQ.PublishDLQ {
		prod, err := queue.NewProducer(cfg.NSQ.NsqdTCPAddr)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer prod.Stop()
		execOpts = append(execOpts, webhook.WithExhaustedHook(queue.DeadLetterHook(prod, cfg.NSQ.DLQTopic, nil)))
	}
	hooks := app.NewWebhooks(cfg, st, st, execOpts...)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	httpSrv := &http.Server{
		Addr:              cfg.WorkerPort,
		Handler:           opsHandler(deps, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	consumer, err := nsq.NewConsumer(cfg.NSQ.ScansTopic, cfg.NSQ.WorkerChannel, consumerConfig(cfg.NSQ))
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLogger(nil, nsq.LogLevelError)
	consumer.AddHandler(queue.NewScanHandler(ctx, hooks.Service, deduper))
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("nsqlookupd connect failed")
	}
	logger.Plain().WithFields(map[string]any{
		"topic":   cfg.NSQ.ScansTopic,
		"channel": cfg.NSQ.WorkerChannel,
	}).Info("worker consuming scan events")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	consumer.Stop()
	<-consumer.StopChan
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker stopped")
}

// consumerConfig sizes the consumer. Each message makes at most one outbound
// attempt, so the message timeout covers a full webhook timeout.
func consumerConfig(cfg config.NSQ) *nsq.Config {
	conf := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		conf.MaxInFlight = cfg.MaxInFlight
	}
	conf.MaxAttempts = 10
	conf.MsgTimeout = time.Minute
	return conf
}

func opsHandler(deps map[string]health.Pinger, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HTTPHandler(deps))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
