// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the ingestion API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092"). Required.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// UsageEventsTopic is the primary topic canonical events are published to.
	UsageEventsTopic string `mapstructure:"USAGE_EVENTS_TOPIC"`
	// DLQTopic is the dead-letter topic for messages whose consumer-side processing crashes.
	DLQTopic string `mapstructure:"DLQ_TOPIC"`
	// KafkaGroupID is the consumer group ID for the billing worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// RedisAddr is the Redis endpoint backing the idempotency cache (e.g. localhost:6379). Required by the server.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`
	// IdempotencyTTL is how long stored responses are replayed for a repeated idempotency key (e.g. "300s").
	IdempotencyTTL string `mapstructure:"IDEMPOTENCY_TTL"`
	// ValidationCacheTTL is the TTL of the validation verdict micro-cache (e.g. "60s").
	// Deliberately independent from IdempotencyTTL.
	ValidationCacheTTL string `mapstructure:"VALIDATION_CACHE_TTL"`
	// MaxBatchSize caps POST /events/batch; larger batches are rejected before any processing.
	MaxBatchSize int `mapstructure:"MAX_BATCH_SIZE"`
	// BatchConcurrency bounds the validate/transform fan-out inside one batch call.
	BatchConcurrency int `mapstructure:"BATCH_CONCURRENCY"`
	// RateLimitPerMinute is the per-caller token-bucket budget.
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	// MaxBodyBytes caps request body size.
	MaxBodyBytes int64 `mapstructure:"MAX_BODY_BYTES"`
	// BreakerFailureRatio is the cumulative failure fraction above which the publisher breaker opens (0..1].
	BreakerFailureRatio float64 `mapstructure:"BREAKER_FAILURE_RATIO"`
	// BreakerCooldown is how long the breaker stays open before one call may reset it (e.g. "30s").
	BreakerCooldown string `mapstructure:"BREAKER_COOLDOWN"`
	// PublishTimeout bounds each breaker-wrapped publisher call (e.g. "5s").
	PublishTimeout string `mapstructure:"PUBLISH_TIMEOUT"`
	// MaxRetries is the single-event publish retry budget.
	MaxRetries int `mapstructure:"MAX_RETRIES"`
	// RetryBaseDelay seeds the exponential backoff between publish retries (e.g. "100ms").
	RetryBaseDelay string `mapstructure:"RETRY_BASE_DELAY"`
	// DatabaseURL is the Postgres DSN for audit-log persistence; empty disables audit persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BillingSinkURL is where the worker forwards consumed events (e.g. http://billing:8081/usage). Worker-only.
	BillingSinkURL string `mapstructure:"BILLING_SINK_URL"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint for traces; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export (standard OTEL_EXPORTER_OTLP_INSECURE behavior).
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// JWTPublicKey is a PEM-encoded public key (or path to one) enabling bearer auth on POST endpoints; empty disables auth.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// Env is the application environment (e.g. "development", "production"). Production redacts 5xx bodies.
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("USAGE_EVENTS_TOPIC", "usage-events")
	v.SetDefault("DLQ_TOPIC", "usage-events-dlq")
	v.SetDefault("KAFKA_GROUP_ID", "billing-aggregator")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDEMPOTENCY_TTL", "300s")
	v.SetDefault("VALIDATION_CACHE_TTL", "60s")
	v.SetDefault("MAX_BATCH_SIZE", 100)
	v.SetDefault("BATCH_CONCURRENCY", 16)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 1200)
	v.SetDefault("MAX_BODY_BYTES", 1<<20) // 1 MiB
	v.SetDefault("BREAKER_FAILURE_RATIO", 0.5)
	v.SetDefault("BREAKER_COOLDOWN", "30s")
	v.SetDefault("PUBLISH_TIMEOUT", "5s")
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_DELAY", "100ms")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BILLING_SINK_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxBatchSize < 1 {
		return nil, errors.New("config: MAX_BATCH_SIZE must be at least 1")
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return nil, fmt.Errorf("config: BREAKER_FAILURE_RATIO must be in (0, 1], got %v", cfg.BreakerFailureRatio)
	}
	return &cfg, nil
}

// KafkaBrokersList splits KafkaBrokers on commas, trimming whitespace and
// dropping empty entries.
func (c *Config) KafkaBrokersList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Production reports whether the app runs with production error redaction.
func (c *Config) Production() bool { return c.Env == "production" }

// IdempotencyTTLDuration parses IdempotencyTTL. Returns 300s if unset or invalid.
func (c *Config) IdempotencyTTLDuration() time.Duration {
	return parseDuration(c.IdempotencyTTL, 300*time.Second)
}

// ValidationCacheTTLDuration parses ValidationCacheTTL. Returns 60s if unset or invalid.
func (c *Config) ValidationCacheTTLDuration() time.Duration {
	return parseDuration(c.ValidationCacheTTL, 60*time.Second)
}

// BreakerCooldownDuration parses BreakerCooldown. Returns 30s if unset or invalid.
func (c *Config) BreakerCooldownDuration() time.Duration {
	return parseDuration(c.BreakerCooldown, 30*time.Second)
}

// PublishTimeoutDuration parses PublishTimeout. Returns 5s if unset or invalid.
func (c *Config) PublishTimeoutDuration() time.Duration {
	return parseDuration(c.PublishTimeout, 5*time.Second)
}

// RetryBaseDelayDuration parses RetryBaseDelay. Returns 100ms if unset or invalid.
func (c *Config) RetryBaseDelayDuration() time.Duration {
	return parseDuration(c.RetryBaseDelay, 100*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
