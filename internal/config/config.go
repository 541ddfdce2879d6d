package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API and worker
// services.
type Config struct {
	Env                string
	LogLevel           string
	HTTPPort           string
	MetricsAddr        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	PostgresDSN        string // empty disables the delivery audit log
	LeaseTTL           time.Duration
	WorkerPollInterval time.Duration
	BatchSize          int
	BatchStagger       time.Duration
	Retention          time.Duration
	ThrottleCapacity   int
	ThrottleRefill     float64
}

// Load reads configuration from environment variables with sane defaults
// for local development.
func Load() Config {
	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		LeaseTTL:           getEnvDuration("LEASE_TTL", 30*time.Second),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		BatchSize:          getEnvInt("BULK_BATCH_SIZE", 50),
		BatchStagger:       getEnvDuration("BULK_BATCH_STAGGER", 50*time.Second),
		Retention:          getEnvDuration("JOB_RETENTION", 24*time.Hour),
		ThrottleCapacity:   getEnvInt("CAMPAIGN_THROTTLE_CAPACITY", 10),
		ThrottleRefill:     getEnvFloat("CAMPAIGN_THROTTLE_REFILL_PER_SEC", 0.5),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
