package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	StoreTimeout time.Duration
	DBMaxConns   int

	IdempotencyTTL time.Duration
	RateLimit      string
	MaxBodyBytes   int64

	SecurityHeaders   bool
	HSTSEnabled       bool
	AuditEnabled      bool
	AuditSamplingRate float64

	ReportCacheTTL time.Duration
	ReportTimezone string

	BillingSchedule         string
	BillingDefaultCycleDays int
	BillingLockTTL          time.Duration
	BillingOverdueGrace     time.Duration
	LockRetryBackoff        time.Duration
	OutboxPollInterval      time.Duration
	OutboxBatchSize         int
	QueueRedisPrefix        string
	QueueConcurrency        int
	QueueVisibilityTimeout  time.Duration
	QueueMaxAttempts        int
	QueueRetryBase          time.Duration
	QueueRetryJitter        float64
	NotifyWebhookURL        string
	NotifyWebhookSecret     string
	NotifyTimeout           time.Duration
	BreakerMinRequests      int
	BreakerFailureRatio     float64
	BreakerOpenFor          time.Duration
	LogFormat               string
	LogLevel                string
	MetricsNamespace        string
	MetricsEnabled          bool
	MetricsBucketsMS        string
	PprofEnabled            bool
	WorkerMetricsAddr       string
	PprofUser               string
	PprofPass               string
	TracingEnabled          bool
	OTLPEndpoint            string
	TracingSamplingRatio    float64
	HealthReadyDBTimeout    time.Duration
	HealthReadyRedisTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),

		StoreTimeout: parseDuration(k.String("STORE_TIMEOUT"), "3s"),
		DBMaxConns:   parseInt(k.String("DB_MAX_CONNS"), 0),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimit:      valueOrDefault(k.String("RATE_LIMIT"), "300-M"),
		MaxBodyBytes:   int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),

		SecurityHeaders:   parseBool(k.String("SECURITY_HEADERS"), true),
		HSTSEnabled:       parseBool(k.String("SECURITY_HSTS"), false),
		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),

		ReportCacheTTL: parseDuration(k.String("REPORT_CACHE_TTL"), "1m"),
		ReportTimezone: valueOrDefault(k.String("REPORT_TIMEZONE"), "UTC"),

		BillingSchedule:         valueOrDefault(k.String("BILLING_SCHEDULE"), "@every 15m"),
		BillingDefaultCycleDays: parseInt(k.String("BILLING_DEFAULT_CYCLE_DAYS"), 30),
		BillingLockTTL:          parseDuration(k.String("BILLING_LOCK_TTL"), "30s"),
		BillingOverdueGrace:     parseDuration(k.String("BILLING_OVERDUE_GRACE"), "168h"),
		LockRetryBackoff:        parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		OutboxPollInterval:      parseDuration(k.String("OUTBOX_POLL_INTERVAL"), "2s"),
		OutboxBatchSize:         parseInt(k.String("OUTBOX_BATCH_SIZE"), 50),
		QueueRedisPrefix:        valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "parkir"),
		QueueConcurrency:        parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout:  parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueMaxAttempts:        parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueRetryBase:          parseDuration(k.String("QUEUE_RETRY_BASE"), "500ms"),
		QueueRetryJitter:        parseFloat(k.String("QUEUE_RETRY_JITTER"), 0.2),
		NotifyWebhookURL:        strings.TrimSpace(k.String("NOTIFY_WEBHOOK_URL")),
		NotifyWebhookSecret:     k.String("NOTIFY_WEBHOOK_SECRET"),
		NotifyTimeout:           parseDuration(k.String("NOTIFY_TIMEOUT"), "5s"),
		BreakerMinRequests:      parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio:     parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:          parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		LogFormat:               valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:                valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:        valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "parkir"),
		MetricsEnabled:          parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsBucketsMS:        k.String("OBS_METRICS_BUCKETS_MS"),
		PprofEnabled:            parseBool(k.String("OBS_ENABLE_PPROF"), false),
		WorkerMetricsAddr:       valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9090"),
		PprofUser:               strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:               strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		TracingEnabled:          parseBool(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:            strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		HealthReadyDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
		HealthReadyRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BillingDefaultCycleDays <= 0 {
		return nil, errors.New("BILLING_DEFAULT_CYCLE_DAYS must be positive")
	}
	if _, err := time.LoadLocation(cfg.ReportTimezone); err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Location resolves the report timezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
