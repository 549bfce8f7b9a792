package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "CongoWallet"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultAMQPExchange     = "wallet.notifications"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultLockTimeout      = 2 * time.Second
	defaultRequestTTL       = 24 * time.Hour
	defaultSweepInterval    = 5 * time.Minute
	defaultClaimTimeout     = time.Minute
	defaultRequestRateLimit = 10
	defaultBulkConcurrency  = 4
	defaultNotifyQueueSize  = 256
	defaultBreakerFailures  = 5
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	LogFormat       string
	DatabaseURL     string
	RedisURL        string
	AMQPURL         string
	AMQPExchange    string
	AutoMigrate     bool
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	LockTimeout     time.Duration
	RequestTTL      time.Duration
	SweepInterval   time.Duration
	ClaimTimeout    time.Duration
	RequestRateMax  int
	BulkConcurrency int
	AdminKeyHash    string
	NotifyQueueSize int
	BreakerFailures int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:      getEnv("APP_NAME", defaultAppName),
		AppEnv:       strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:         getEnv("PORT", defaultPort),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		AdminKeyHash: os.Getenv("ADMIN_KEY_HASH"),
	}

	var err error
	if cfg.AutoMigrate, err = boolEnv("AUTO_MIGRATE", true); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", time.Second, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", time.Second, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = durationEnv("LOCK_TIMEOUT", time.Millisecond, defaultLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RequestTTL, err = durationEnv("PAYMENT_REQUEST_TTL", time.Second, defaultRequestTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("EXPIRY_SWEEP_INTERVAL", time.Second, defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.ClaimTimeout, err = durationEnv("PAYMENT_REQUEST_CLAIM_TIMEOUT", time.Second, defaultClaimTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RequestRateMax, err = intEnv("PAYMENT_REQUEST_RATE_LIMIT", defaultRequestRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.BulkConcurrency, err = intEnv("BULK_CONCURRENCY", defaultBulkConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize, err = intEnv("NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.BreakerFailures, err = intEnv("NOTIFY_BREAKER_FAILURES", defaultBreakerFailures); err != nil {
		return Config{}, err
	}

	if cfg.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if cfg.RequestTTL <= 0 {
		return Config{}, fmt.Errorf("PAYMENT_REQUEST_TTL must be positive")
	}
	// A claim younger than two lock waits may still be transferring.
	if cfg.ClaimTimeout <= 2*cfg.LockTimeout {
		return Config{}, fmt.Errorf("PAYMENT_REQUEST_CLAIM_TIMEOUT must exceed twice LOCK_TIMEOUT")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDev reports whether the service may run on in-memory stores.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "development", "dev", "local":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads key as a Go duration string, or key_SECONDS / key_MS as
// an integer count of unit. The integer form wins when both are set.
func durationEnv(key string, unit time.Duration, fallback time.Duration) (time.Duration, error) {
	suffix := "_SECONDS"
	if unit == time.Millisecond {
		suffix = "_MS"
	}
	if v := os.Getenv(key + suffix); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key+suffix, err)
		}
		return time.Duration(n) * unit, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
