package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/notifier/pkg/config"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Email transports.
const (
	EmailTransportLog      = "log"
	EmailTransportPostmark = "postmark"
	EmailTransportSMTP     = "smtp"
)

// Config holds all configuration for the notifier.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"NOTIFIER_HTTP_PORT" envDefault:"8010"`

	// Storage
	StoreDriver string `env:"NOTIFIER_STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"notifier"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"notifier_secret"`
	PostgresDB            string `env:"NOTIFIER_DB_NAME" envDefault:"notifier_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`
	SlowQueryThresholdMs  int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis. Preference cache, dedup guard, kafka idempotency and the in-app
	// inbox are only wired when Redis is enabled.
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost    string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort    int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass    string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`

	RedisPoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"20"`
	RedisDialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	RedisReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"1s"`
	RedisWriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"1s"`

	PreferenceCacheTTL time.Duration `env:"PREFERENCE_CACHE_TTL" envDefault:"5m"`
	DedupWindow        time.Duration `env:"DEDUP_WINDOW" envDefault:"24h"`
	InboxMaxSize       int64         `env:"INBOX_MAX_SIZE" envDefault:"100"`
	InboxTTL           time.Duration `env:"INBOX_TTL" envDefault:"720h"`

	// Kafka
	KafkaEnabled   bool          `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	IdempotencyTTL time.Duration `env:"KAFKA_IDEMPOTENCY_TTL" envDefault:"24h"`

	// Dispatch queue
	QueueMaxSize       int           `env:"QUEUE_MAX_SIZE" envDefault:"10000"`
	QueueBatchSize     int           `env:"QUEUE_BATCH_SIZE" envDefault:"100"`
	QueueFlushInterval time.Duration `env:"QUEUE_FLUSH_INTERVAL" envDefault:"5s"`

	// Retries
	RetryAttempts         int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay            time.Duration `env:"RETRY_DELAY" envDefault:"30s"`
	RetryInterval         time.Duration `env:"RETRY_INTERVAL" envDefault:"1m"`
	RetryHonorsQuietHours bool          `env:"RETRY_HONORS_QUIET_HOURS" envDefault:"true"`

	// Sends. A zero timeout leaves sends unbounded.
	SendTimeout            time.Duration `env:"SEND_TIMEOUT" envDefault:"0s"`
	TimeoutCountsAsFailure bool          `env:"TIMEOUT_COUNTS_AS_FAILURE" envDefault:"true"`

	// Circuit breaker
	BreakerFailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerRecoveryTimeout  time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" envDefault:"60s"`
	BreakerSuccessThreshold uint32        `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"3"`

	// Channels
	EmailEnabled bool `env:"CHANNEL_EMAIL_ENABLED" envDefault:"true"`
	SMSEnabled   bool `env:"CHANNEL_SMS_ENABLED" envDefault:"true"`
	PushEnabled  bool `env:"CHANNEL_PUSH_ENABLED" envDefault:"true"`
	InAppEnabled bool `env:"CHANNEL_IN_APP_ENABLED" envDefault:"true"`

	// Email transport
	EmailTransport       string        `env:"EMAIL_TRANSPORT" envDefault:"log"`
	EmailFrom            string        `env:"EMAIL_FROM" envDefault:"notifications@example.com"`
	EmailReplyTo         string        `env:"EMAIL_REPLY_TO" envDefault:""`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN" envDefault:""`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN" envDefault:""`
	SMTPHost             string        `env:"SMTP_HOST" envDefault:""`
	SMTPPort             int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser             string        `env:"SMTP_USERNAME" envDefault:""`
	SMTPPass             string        `env:"SMTP_PASSWORD" envDefault:""`
	SMTPTimeout          time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`

	// SMS transport. An empty URL selects the log transport.
	SMSWebhookURL       string        `env:"SMS_WEBHOOK_URL" envDefault:""`
	SMSWebhookHealthURL string        `env:"SMS_WEBHOOK_HEALTH_URL" envDefault:""`
	SMSWebhookAPIKey    string        `env:"SMS_WEBHOOK_API_KEY" envDefault:""`
	SMSSender           string        `env:"SMS_SENDER" envDefault:""`
	SMSWebhookTimeout   time.Duration `env:"SMS_WEBHOOK_TIMEOUT" envDefault:"10s"`
	SMSWebhookRetries   int           `env:"SMS_WEBHOOK_RETRIES" envDefault:"2"`

	// Push transport. An empty URL selects the log transport.
	PushAMQPURL  string `env:"PUSH_AMQP_URL" envDefault:""`
	PushExchange string `env:"PUSH_EXCHANGE" envDefault:"notifier.push"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// pprof is only mounted when at least one CIDR is configured.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`
}

// Load reads configuration from a .env file, when present, and the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, ".env"); err != nil {
		return nil, fmt.Errorf("load notifier config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("NOTIFIER_STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	if c.RedisEnabled && c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive, got %d", c.RedisPoolSize)
	}

	if c.SMSWebhookRetries < 0 {
		return fmt.Errorf("SMS_WEBHOOK_RETRIES must not be negative, got %d", c.SMSWebhookRetries)
	}

	if c.QueueMaxSize < 1 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be positive, got %d", c.QueueMaxSize)
	}
	if c.QueueBatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive, got %d", c.QueueBatchSize)
	}
	if c.QueueFlushInterval <= 0 {
		return fmt.Errorf("QUEUE_FLUSH_INTERVAL must be positive, got %s", c.QueueFlushInterval)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("SEND_TIMEOUT must not be negative, got %s", c.SendTimeout)
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerSuccessThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be at least 1")
	}

	switch c.EmailTransport {
	case EmailTransportLog:
	case EmailTransportPostmark:
		if c.PostmarkServerToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN is required for the postmark email transport")
		}
	case EmailTransportSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp email transport")
		}
	default:
		return fmt.Errorf("unknown EMAIL_TRANSPORT %q", c.EmailTransport)
	}

	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}

	return nil
}
