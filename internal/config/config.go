package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DB struct {
	User        string `env:"DB_USER" envDefault:"postgres"`
	Pass        string `env:"DB_PASS" envDefault:"postgres"`
	Host        string `env:"DB_HOST" envDefault:"postgres"`
	Port        string `env:"DB_PORT" envDefault:"5432"`
	Name        string `env:"DB_NAME" envDefault:"qrhook"`
	MaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"` // run goose migrations on API start
}

type NSQ struct {
	NsqdTCPAddr    string `env:"NSQD_TCP_ADDR" envDefault:"nsqd:4150"`
	NsqdHTTPAddr   string `env:"NSQD_HTTP_ADDR" envDefault:"nsqd:4151"`
	LookupHTTPAddr string `env:"NSQ_LOOKUP_HTTP_ADDR" envDefault:"nsqlookupd:4161"`
	ScansTopic     string `env:"NSQ_SCANS_TOPIC" envDefault:"scans"`
	DLQTopic       string `env:"NSQ_DLQ_TOPIC" envDefault:"webhook_deliveries_dlq"`
	WorkerChannel  string `env:"NSQ_WORKER_CHANNEL" envDefault:"webhooks"`
	MaxInFlight    int    `env:"NSQ_MAX_IN_FLIGHT" envDefault:"10"`
	PublishDLQ     bool   `env:"PUBLISH_DLQ_TOPIC" envDefault:"false"` // publish exhausted deliveries
}

type Redis struct {
	URL       string        `env:"REDIS_URL"` // empty disables scan dedupe
	DedupeTTL time.Duration `env:"SCAN_DEDUPE_TTL" envDefault:"24h"`
}

type Delivery struct {
	Timeout           time.Duration   `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	MaxAttempts       int             `env:"MAX_ATTEMPTS" envDefault:"5"`
	BackoffSchedule   []time.Duration `env:"BACKOFF_SCHEDULE" envDefault:"1m,5m,30m,2h,6h"`
	ResponseBodyLimit int64           `env:"RESPONSE_BODY_LIMIT" envDefault:"2048"`
	UserAgent         string          `env:"WEBHOOK_USER_AGENT" envDefault:"QRHook-Webhooks/1.0"`
}

type Jobs struct {
	// CronSecret authenticates the batch job triggers. Empty rejects every call.
	CronSecret     string        `env:"CRON_SECRET"`
	RetryBatchSize int           `env:"RETRY_BATCH_SIZE" envDefault:"50"`
	RetryPace      time.Duration `env:"RETRY_PACE" envDefault:"100ms"`
	Retention      time.Duration `env:"RETENTION_WINDOW" envDefault:"720h"`
}

type Auth struct {
	PublicKeyPEM string `env:"JWT_PUBLIC_KEY"`
	JWKSURL      string `env:"JWT_JWKS_URL"`
	Issuer       string `env:"JWT_ISSUER" envDefault:"qrhook-auth"`
	Audience     string `env:"JWT_AUDIENCE" envDefault:"qrhook-api"`
	// TrustGatewayHeader accepts x-account-id set by an authenticating proxy.
	TrustGatewayHeader bool `env:"AUTH_TRUST_GATEWAY_HEADER" envDefault:"false"`

	// Development token server only.
	PrivateKeyPEM string        `env:"JWT_PRIVATE_KEY"`
	KeyID         string        `env:"JWT_KEY_ID" envDefault:"qrhook-dev-1"`
	TokenTTL      time.Duration `env:"JWT_TOKEN_TTL" envDefault:"1h"`
	JWKSPort      string        `env:"JWKS_PORT" envDefault:":8082"`
}

type Monitor struct {
	Port         string        `env:"MONITOR_PORT" envDefault:":8084"`
	PollInterval time.Duration `env:"MONITOR_POLL_INTERVAL" envDefault:"15s"`
}

type Tracing struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"otel-collector:4318"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	Version     string  `env:"SERVICE_VERSION" envDefault:"dev"`
}

type FakeReceiver struct {
	FailFirstN       int           `env:"FAIL_FIRST_N" envDefault:"0"`           // requests to fail initially
	EndpointSecret   string        `env:"ENDPOINT_SECRET"`                       // secret for signature verification
	SigningTolerance time.Duration `env:"SIGNING_TOLERANCE" envDefault:"5m"`     // allowed timestamp skew
	ResponseDelay    time.Duration `env:"RESPONSE_DELAY" envDefault:"0s"`        // simulated latency
	Port             string        `env:"FAKE_RECEIVER_PORT" envDefault:":8081"` // listen address
	ReadTimeout      time.Duration `env:"FAKE_RECEIVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"FAKE_RECEIVER_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout      time.Duration `env:"FAKE_RECEIVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type Config struct {
	AppName      string `env:"APP_NAME" envDefault:"qrhook"`
	HTTPPort     string `env:"HTTP_PORT" envDefault:":8080"`
	GRPCPort     string `env:"GRPC_PORT" envDefault:":50051"`
	WorkerPort   string `env:"WORKER_HTTP_PORT" envDefault:":8083"`
	DB           DB
	NSQ          NSQ
	Redis        Redis
	Delivery     Delivery
	Jobs         Jobs
	Auth         Auth
	Tracing      Tracing
	Monitor      Monitor
	FakeReceiver FakeReceiver
}

// FromEnv loads an optional .env file and then parses the process environment.
func FromEnv() (Config, error) {
	// A missing .env is fine; real deployments set variables directly.
	_ = godotenv.Load()
	return parse(env.Options{})
}

// FromMap parses configuration from environ only, ignoring the process environment.
func FromMap(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that would break delivery semantics.
func (c Config) Validate() error {
	var errs []error
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Delivery.MaxAttempts))
	}
	if len(c.Delivery.BackoffSchedule) == 0 {
		errs = append(errs, errors.New("BACKOFF_SCHEDULE must not be empty"))
	}
	for i, d := range c.Delivery.BackoffSchedule {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("BACKOFF_SCHEDULE entry %d must be positive", i+1))
		}
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT must be positive"))
	}
	if c.Jobs.Retention <= 0 {
		errs = append(errs, errors.New("RETENTION_WINDOW must be positive"))
	}
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, errors.New("MONITOR_POLL_INTERVAL must be positive"))
	}
	if c.Jobs.RetryPace < 0 {
		errs = append(errs, errors.New("RETRY_PACE must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
