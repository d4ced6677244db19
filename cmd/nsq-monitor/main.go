package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/health"
	"github.com/austindbirch/qrhook/internal/logging"
)

const serviceName = "qrhook-nsq-monitor"

// nsqStats is the subset of nsqd's /stats?format=json response we read.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

// monitor exports the scan backlog and the dead-letter depth as gauges.
type monitor struct {
	nsqdHTTPAddr  string
	scansTopic    string
	workerChannel string
	dlqTopic      string
	client        *http.Client
	logger        *logging.Logger

	scanBacklog     prometheus.Gauge
	dlqDepth        prometheus.Gauge
	channelDepth    *prometheus.GaugeVec
	channelInflight *prometheus.GaugeVec
}

func newMonitor(cfg config.NSQ, reg prometheus.Registerer) *monitor {
	m := &monitor{
		nsqdHTTPAddr:  cfg.NsqdHTTPAddr,
		scansTopic:    cfg.ScansTopic,
		workerChannel: cfg.WorkerChannel,
		dlqTopic:      cfg.DLQTopic,
		client:        &http.Client{Timeout: 5 * time.Second},
		logger:        logging.New(serviceName),
		scanBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qrhook_scan_queue_backlog",
			Help: "Scan events waiting on the webhook worker channel",
		}),
		dlqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qrhook_dlq_depth",
			Help: "Messages held by the exhausted delivery topic",
		}),
		channelDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qrhook_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
		channelInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qrhook_nsq_channel_inflight",
			Help: "In-flight messages for NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
	}
	reg.MustRegister(m.scanBacklog, m.dlqDepth, m.channelDepth, m.channelInflight)
	return m
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logging.SetDefaultService(serviceName)
	logger := logging.New(serviceName)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("config load failed")
	}

	reg := prometheus.NewRegistry()
	m := newMonitor(cfg.NSQ, reg)
	logger.Plain().WithFields(map[string]any{
		"nsqd":     cfg.NSQ.NsqdHTTPAddr,
		"interval": cfg.Monitor.PollInterval.String(),
	}).Info("nsq monitor starting")
	go m.collect(ctx, cfg.Monitor.PollInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.HTTPHandler(map[string]health.Pinger{"nsqd": health.PingerFunc(m.ping)}))
	srv := &http.Server{Addr: cfg.Monitor.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("monitor http server failed")
		}
	}()
	logger.Plain().WithField("addr", cfg.Monitor.Port).Info("monitor listening")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Plain().Info("nsq monitor stopped")
}

func (m *monitor) collect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.update(ctx); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("nsq stats update failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *monitor) update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/stats?format=json", m.nsqdHTTPAddr), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsq stats returned HTTP %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, topic := range stats.Topics {
		switch topic.TopicName {
		case m.dlqTopic:
			m.dlqDepth.Set(float64(topic.Depth))
		case m.scansTopic:
			for _, ch := range topic.Channels {
				if ch.ChannelName == m.workerChannel {
					m.scanBacklog.Set(float64(ch.Depth))
				}
				m.channelDepth.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.Depth))
				m.channelInflight.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.InFlightCount))
			}
		}
	}
	return nil
}

func (m *monitor) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/ping", m.nsqdHTTPAddr), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}
