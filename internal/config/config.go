// Package config loads SentinelStream configuration from the environment.
//
// Values start from domain.DefaultConfig, an optional .env file is read for
// local development, and SENTINEL_* variables override individual fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Load reads .env (when present) and the process environment.
func Load(envFiles ...string) (*domain.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Existing process variables win over the file.
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := domain.DefaultConfig()
	p := &parser{}

	// Server
	cfg.Server.Host = p.str("SENTINEL_HOST", cfg.Server.Host)
	cfg.Server.Port = p.int("SENTINEL_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = p.int("SENTINEL_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = p.int("SENTINEL_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Repository
	cfg.Repository.Driver = p.str("SENTINEL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = p.str("SENTINEL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = p.str("SENTINEL_PG_HOST", "localhost")
	cfg.Repository.PostgresPort = p.int("SENTINEL_PG_PORT", 5432)
	cfg.Repository.PostgresUser = p.str("SENTINEL_PG_USER", "postgres")
	cfg.Repository.PostgresPassword = p.str("SENTINEL_PG_PASSWORD", "")
	cfg.Repository.PostgresDB = p.str("SENTINEL_PG_DB", "sentinel")
	cfg.Repository.PostgresSSLMode = p.str("SENTINEL_PG_SSLMODE", "disable")
	cfg.Repository.MaxOpenConns = p.int("SENTINEL_DB_MAX_OPEN_CONNS", 25)
	cfg.Repository.MaxIdleConns = p.int("SENTINEL_DB_MAX_IDLE_CONNS", 5)
	cfg.Repository.ConnMaxLifetime = p.duration("SENTINEL_DB_CONN_MAX_LIFETIME", 5*time.Minute)

	// Cache
	cfg.Cache.Type = p.str("SENTINEL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = p.str("SENTINEL_REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = p.str("SENTINEL_REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = p.int("SENTINEL_REDIS_DB", 0)
	cfg.Cache.EnableTwoPhase = p.bool("SENTINEL_CACHE_TWO_PHASE", cfg.Cache.Type == "redis")
	cfg.Cache.LocalMaxSize = p.int("SENTINEL_CACHE_LOCAL_SIZE", cfg.Cache.LocalMaxSize)
	cfg.Cache.UserTTL = p.duration("SENTINEL_USER_CACHE_TTL", cfg.Cache.UserTTL)

	// Event bus
	cfg.EventBus.Type = p.str("SENTINEL_BUS", cfg.EventBus.Type)
	cfg.EventBus.ChannelBufferSize = p.int("SENTINEL_BUS_BUFFER", cfg.EventBus.ChannelBufferSize)
	cfg.EventBus.NATSUrl = p.str("SENTINEL_NATS_URL", "nats://localhost:4222")
	cfg.EventBus.NATSToken = p.str("SENTINEL_NATS_TOKEN", "")
	cfg.EventBus.NATSMaxReconnects = p.int("SENTINEL_NATS_MAX_RECONNECTS", 10)
	cfg.EventBus.NATSReconnectWait = p.int("SENTINEL_NATS_RECONNECT_WAIT", 2)

	// Alerts
	a := &cfg.Alert
	a.Workers = p.int("SENTINEL_ALERT_WORKERS", a.Workers)
	a.QueueSize = p.int("SENTINEL_ALERT_QUEUE_SIZE", a.QueueSize)
	a.EnqueueTimeout = p.duration("SENTINEL_ALERT_ENQUEUE_TIMEOUT", a.EnqueueTimeout)
	a.MaxAttempts = p.int("SENTINEL_ALERT_MAX_ATTEMPTS", a.MaxAttempts)
	a.RetryBaseDelay = p.duration("SENTINEL_ALERT_RETRY_DELAY", a.RetryBaseDelay)
	a.Threshold = p.float("SENTINEL_ALERT_THRESHOLD", a.Threshold)
	a.Sink = strings.ToLower(p.str("SENTINEL_ALERT_SINK", a.Sink))
	a.WebhookURL = p.str("SENTINEL_ALERT_WEBHOOK_URL", a.WebhookURL)
	a.WebhookSecret = p.str("SENTINEL_ALERT_WEBHOOK_SECRET", a.WebhookSecret)
	a.WebhookTimeout = p.duration("SENTINEL_ALERT_WEBHOOK_TIMEOUT", a.WebhookTimeout)
	a.AsynqRedisAddr = p.str("SENTINEL_ASYNQ_REDIS_ADDR", a.AsynqRedisAddr)
	a.AsynqRedisPassword = p.str("SENTINEL_ASYNQ_REDIS_PASSWORD", a.AsynqRedisPassword)
	a.AsynqQueue = p.str("SENTINEL_ASYNQ_QUEUE", a.AsynqQueue)
	a.AsynqConcurrency = p.int("SENTINEL_ASYNQ_CONCURRENCY", a.AsynqConcurrency)
	a.AsynqDeliverTo = strings.ToLower(p.str("SENTINEL_ASYNQ_DELIVER_TO", a.AsynqDeliverTo))

	// Model, worker
	cfg.Model.Path = p.str("SENTINEL_MODEL_PATH", cfg.Model.Path)
	cfg.Worker.BulkIngest = p.bool("SENTINEL_BULK_INGEST", cfg.Worker.BulkIngest)

	// Observability
	cfg.Logging.Level = p.str("SENTINEL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = p.str("SENTINEL_LOG_FORMAT", cfg.Logging.Format)
	if p.bool("SENTINEL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = p.bool("SENTINEL_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = p.str("SENTINEL_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = p.bool("SENTINEL_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.ServiceName = p.str("SENTINEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Metrics.Enabled = p.bool("SENTINEL_METRICS", cfg.Metrics.Enabled)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536, "server port %d out of range", cfg.Server.Port)
	check(cfg.Repository.Driver == "sqlite" || cfg.Repository.Driver == "postgres",
		"unsupported repository driver %q", cfg.Repository.Driver)
	check(cfg.Cache.Type == "memory" || cfg.Cache.Type == "redis", "unsupported cache type %q", cfg.Cache.Type)
	check(cfg.EventBus.Type == "channel" || cfg.EventBus.Type == "nats", "unsupported event bus %q", cfg.EventBus.Type)
	check(cfg.Alert.Workers > 0, "alert workers must be positive")
	check(cfg.Alert.QueueSize > 0, "alert queue size must be positive")
	check(cfg.Alert.EnqueueTimeout >= 0, "alert enqueue timeout must not be negative")
	check(cfg.Alert.MaxAttempts > 0, "alert max attempts must be positive")
	check(cfg.Alert.Threshold > 0, "alert threshold must be positive")

	switch cfg.Alert.Sink {
	case domain.AlertSinkLog, domain.AlertSinkBus, domain.AlertSinkAsynq:
	case domain.AlertSinkWebhook:
		check(cfg.Alert.WebhookURL != "", "webhook alert sink requires SENTINEL_ALERT_WEBHOOK_URL")
	default:
		errs = append(errs, fmt.Errorf("unsupported alert sink %q", cfg.Alert.Sink))
	}
	check(cfg.Alert.AsynqDeliverTo == domain.AlertSinkLog || cfg.Alert.AsynqDeliverTo == domain.AlertSinkWebhook,
		"alert worker can only deliver to log or webhook, got %q", cfg.Alert.AsynqDeliverTo)
	check(cfg.Model.Path != "", "model path is required")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// parser reads typed environment values and collects malformed ones.
type parser struct {
	errs []error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
