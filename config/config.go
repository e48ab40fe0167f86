package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	PayPal            PayPalConfig
	Tokenization      TokenizationConfig
	Webhooks          WebhooksConfig
	Retry             RetryConfig
	Refunds           RefundsConfig
	Payments          PaymentsConfig
	Jobs              JobsConfig
	Events            EventsConfig
	Archive           ArchiveConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
	Env         string
}

func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	APIBaseURL                string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Environment  string
	APIBaseURL   string
	HTTPTimeout  time.Duration
}

// TokenizationConfig carries the AES-256 keyring. Keys is "id:hex,id:hex"; new tokens
// are sealed with ActiveKeyID and older keys stay available for detokenization.
type TokenizationConfig struct {
	Keys        string
	ActiveKeyID string
	TokenTTL    time.Duration
}

type WebhooksConfig struct {
	ProcessingLockTTL time.Duration
	ProcessedTTL      time.Duration
	FailedTTL         time.Duration
	HandlerTimeout    time.Duration
}

type RetryConfig struct {
	MaxAttempts  int32
	InitialDelay time.Duration
	MaxDelay     time.Duration
	BatchSize    int32
}

type RefundsConfig struct {
	DefaultTolerance decimal.Decimal
	Tolerances       map[string]decimal.Decimal
}

type PaymentsConfig struct {
	ProviderTimeout     time.Duration
	TransactionLockTTL  time.Duration
	ReconcileStaleAfter time.Duration
	DefaultListLimit    int32
	MaxListLimit        int32
}

type JobsConfig struct {
	SchedulerEnabled         bool
	TransactionRetryInterval time.Duration
	WebhookReplayInterval    time.Duration
	ReconcileInterval        time.Duration
	HealthProbeInterval      time.Duration
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	refunds, err := loadRefunds()
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payment-gateway-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
			Env:         getEnv("APP_ENV", "development"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			SecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
			APIBaseURL:                getEnv("STRIPE_API_BASE_URL", "https://api.stripe.com"),
			SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
			Environment:  getEnv("PAYPAL_ENVIRONMENT", "sandbox"),
			APIBaseURL:   getEnv("PAYPAL_API_BASE_URL", ""),
			HTTPTimeout:  getSecondsEnv("PAYPAL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Tokenization: TokenizationConfig{
			Keys:        getEnv("TOKENIZATION_KEYS", ""),
			ActiveKeyID: getEnv("TOKENIZATION_ACTIVE_KEY_ID", ""),
			TokenTTL:    getHoursEnv("TOKENIZATION_TOKEN_TTL_HOURS", 365*24*time.Hour),
		},
		Webhooks: WebhooksConfig{
			ProcessingLockTTL: getSecondsEnv("WEBHOOK_PROCESSING_LOCK_TTL_SECONDS", 5*time.Minute),
			ProcessedTTL:      getHoursEnv("WEBHOOK_PROCESSED_TTL_HOURS", 30*24*time.Hour),
			FailedTTL:         getHoursEnv("WEBHOOK_FAILED_TTL_HOURS", 7*24*time.Hour),
			HandlerTimeout:    getSecondsEnv("WEBHOOK_HANDLER_TIMEOUT_SECONDS", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:  int32(getIntEnv("RETRY_MAX_ATTEMPTS", 3)),
			InitialDelay: getMillisecondsEnv("RETRY_INITIAL_DELAY_MS", time.Second),
			MaxDelay:     getMillisecondsEnv("RETRY_MAX_DELAY_MS", 30*time.Second),
			BatchSize:    int32(getIntEnv("RETRY_BATCH_SIZE", 50)),
		},
		Refunds: refunds,
		Payments: PaymentsConfig{
			ProviderTimeout:     getSecondsEnv("PAYMENTS_PROVIDER_TIMEOUT_SECONDS", 15*time.Second),
			TransactionLockTTL:  getSecondsEnv("PAYMENTS_TRANSACTION_LOCK_TTL_SECONDS", 60*time.Second),
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			DefaultListLimit:    int32(getIntEnv("PAYMENTS_LIST_DEFAULT_LIMIT", 10)),
			MaxListLimit:        int32(getIntEnv("PAYMENTS_LIST_MAX_LIMIT", 100)),
		},
		Jobs: JobsConfig{
			SchedulerEnabled:         getBoolEnv("SCHEDULER_ENABLED", true),
			TransactionRetryInterval: getSecondsEnv("JOBS_TRANSACTION_RETRY_INTERVAL_SECONDS", 60*time.Second),
			WebhookReplayInterval:    getSecondsEnv("JOBS_WEBHOOK_REPLAY_INTERVAL_SECONDS", 5*time.Minute),
			ReconcileInterval:        getMinutesEnv("JOBS_RECONCILE_INTERVAL_MINUTES", 5*time.Minute),
			HealthProbeInterval:      getSecondsEnv("JOBS_HEALTH_PROBE_INTERVAL_SECONDS", 15*time.Second),
		},
		Events: EventsConfig{
			AMQPURL:  getEnv("EVENTS_AMQP_URL", ""),
			Exchange: getEnv("EVENTS_EXCHANGE", "payments.events"),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", "webhook-archive"),
			UseSSL:    getBoolEnv("ARCHIVE_USE_SSL", true),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMillisecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getHoursEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if hours, err := strconv.Atoi(value); err == nil {
			return time.Duration(hours) * time.Hour
		}
	}
	return defaultValue
}
