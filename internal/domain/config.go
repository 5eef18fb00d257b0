package domain

import "time"

// Config holds the complete SentinelStream configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Alert      AlertConfig      `json:"alert"`
	Model      ModelConfig      `json:"model"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP HTTP host:port
	Insecure    bool   `json:"insecure"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// ModelConfig points at the anomaly model artifact.
type ModelConfig struct {
	Path string `json:"path"`
}

// WorkerConfig controls the bulk ingest consumer.
type WorkerConfig struct {
	BulkIngest bool `json:"bulkIngest"`
}

// Alert sink types.
const (
	AlertSinkLog     = "log"
	AlertSinkWebhook = "webhook"
	AlertSinkBus     = "bus"
	AlertSinkAsynq   = "asynq"
)

// AlertConfig holds alert dispatcher and sink settings.
type AlertConfig struct {
	Workers        int           `json:"workers"`
	QueueSize      int           `json:"queueSize"`
	EnqueueTimeout time.Duration `json:"enqueueTimeout"`
	MaxAttempts    int           `json:"maxAttempts"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay"`
	Threshold      float64       `json:"threshold"`

	// Sink is one of: log, webhook, bus, asynq
	Sink string `json:"sink"`

	WebhookURL     string        `json:"webhookUrl"`
	WebhookSecret  string        `json:"-"`
	WebhookTimeout time.Duration `json:"webhookTimeout"`

	// Asynq (durable queue) settings
	AsynqRedisAddr     string `json:"asynqRedisAddr"`
	AsynqRedisPassword string `json:"-"`
	AsynqQueue         string `json:"asynqQueue"`
	AsynqConcurrency   int    `json:"asynqConcurrency"`
	// AsynqDeliverTo is the sink the alert worker delivers to: log or webhook.
	AsynqDeliverTo string `json:"asynqDeliverTo"`
}

// DefaultConfig returns a default single-node configuration:
// SQLite, in-memory cache, channel bus and log alerts.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sentinel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			UserTTL:      5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Alert: AlertConfig{
			Workers:          4,
			QueueSize:        1024,
			EnqueueTimeout:   50 * time.Millisecond,
			MaxAttempts:      3,
			RetryBaseDelay:   100 * time.Millisecond,
			Threshold:        80,
			Sink:             AlertSinkLog,
			WebhookTimeout:   5 * time.Second,
			AsynqRedisAddr:   "localhost:6379",
			AsynqQueue:       "alerts",
			AsynqConcurrency: 10,
			AsynqDeliverTo:   AlertSinkLog,
		},
		Model: ModelConfig{
			Path: "./models/isolation_forest.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinelstream",
			Endpoint:    "localhost:4318",
			Insecure:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
