package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in images without zoneinfo

	"github.com/joho/godotenv"
)

const (
	StoreProviderPostgres = "postgres"
	StoreProviderMemory   = "memory"

	NotifierLog   = "log"
	NotifierKafka = "kafka"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Storage
	StoreProvider string // "postgres" or "memory"
	DatabaseUrl   string

	// Timezone sets the grouping day boundary, the rule time window and
	// the cron schedule.
	Timezone string
	Location *time.Location

	// Scheduler Configuration
	SchedulerEnabled bool
	GroupingCron     string
	RetentionCron    string
	SweepTimeout     time.Duration
	SweepConcurrency int
	BatchRetention   time.Duration

	// Approval workflow
	MaxVoteRetries int

	// Notification sink
	Notifier      string // "log" or "kafka"
	KafkaBrokers  []string
	KafkaTopic    string
	NotifyTimeout time.Duration

	// RedisURL enables shared sweep leases across replicas. Empty means
	// leases are held in-process.
	RedisURL string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		StoreProvider: getEnv("STORE_PROVIDER", StoreProviderPostgres),
		DatabaseUrl:   os.Getenv("DATABASE_URL"),

		Timezone: getEnv("TIMEZONE", "UTC"),

		// Grouping runs nightly, retention weekly
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		GroupingCron:     getEnv("GROUPING_CRON", "0 2 * * *"),
		RetentionCron:    getEnv("RETENTION_CRON", "0 3 * * 0"),
		SweepTimeout:     getEnvDuration("SWEEP_TIMEOUT", 10*time.Minute),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),
		BatchRetention:   getEnvDuration("BATCH_RETENTION", 720*time.Hour),

		MaxVoteRetries: getEnvInt("MAX_VOTE_RETRIES", 5),

		Notifier:      getEnv("NOTIFIER", NotifierLog),
		KafkaBrokers:  getEnvList("KAFKA_BROKERS"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "inspection-approvals"),
		NotifyTimeout: getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),

		RedisURL: getEnv("REDIS_URL", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// Validate storage configuration
	switch cfg.StoreProvider {
	case StoreProviderPostgres:
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_PROVIDER is 'postgres'")
		}
	case StoreProviderMemory:
	default:
		return nil, fmt.Errorf("STORE_PROVIDER must be either 'postgres' or 'memory', got: %s", cfg.StoreProvider)
	}

	// Validate notifier configuration
	switch cfg.Notifier {
	case NotifierKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when NOTIFIER is 'kafka'")
		}
	case NotifierLog:
	default:
		return nil, fmt.Errorf("NOTIFIER must be either 'log' or 'kafka', got: %s", cfg.Notifier)
	}

	if cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("SWEEP_CONCURRENCY must be at least 1, got %d", cfg.SweepConcurrency)
	}
	if cfg.MaxVoteRetries < 1 {
		return nil, fmt.Errorf("MAX_VOTE_RETRIES must be at least 1, got %d", cfg.MaxVoteRetries)
	}
	if cfg.BatchRetention <= 0 {
		return nil, fmt.Errorf("BATCH_RETENTION must be positive, got %v", cfg.BatchRetention)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
