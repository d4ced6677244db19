package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/qrhook/internal/api"
	"github.com/austindbirch/qrhook/internal/app"
	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/db"
	"github.com/austindbirch/qrhook/internal/health"
	"github.com/austindbirch/qrhook/internal/logging"
	"github.com/austindbirch/qrhook/internal/metrics"
	"github.com/austindbirch/qrhook/internal/queue"
	"github.com/austindbirch/qrhook/internal/store"
	"github.com/austindbirch/qrhook/internal/tracing"
	"github.com/austindbirch/qrhook/internal/webhook"
)

const serviceName = "qrhook-api"

// grpcServiceName is the health service name reported alongside the overall status.
const grpcServiceName = "qrhook.webhooks"

func main() {
	ctx := context.Background()
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
	if cfg.DB.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Plain().WithError(err).Fatal("db migrate failed")
		}
	}
	st := store.NewPostgres(pool)

	validator, err := app.NewAuthenticator(ctx, cfg.Auth, nil)
	if err != nil {
		logger.Plain().WithError(err).Fatal("auth setup failed")
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
	if cfg.Jobs.CronSecret == "" {
		logger.Plain().Warn("CRON_SECRET is not set, job triggers will be rejected")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	router := newHandler(api.Options{
		Webhooks:     hooks.Service,
		Retries:      hooks.Scheduler,
		Cleanup:      hooks.Cleanup,
		CronSecret:   cfg.Jobs.CronSecret,
		Authenticate: validator.HTTPMiddleware,
		Logger:       logger,
	}, map[string]health.Pinger{"database": pool}, reg)

	// gRPC: standard health service for orchestrators, traced and behind the token check.
	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(validator.GRPCInterceptor()),
	)
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	hs.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("api gRPC listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve failed")
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("api HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("HTTP serve failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	hs.Shutdown()
	grpcSrv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("api stopped")
}

// newHandler mounts health and metrics next to the API routes.
func newHandler(opts api.Options, deps map[string]health.Pinger, reg *prometheus.Registry) chi.Router {
	r := api.NewRouter(opts)
	r.Get("/healthz", health.HTTPHandler(deps))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
