package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	AdminAPIToken string
	WebAppURL     string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Queue / worker pool
	JobMaxAttempts       int
	JobBackoffBaseSec    int
	ShutdownGraceSec     int
	SchedulerTickSec     int
	DelayedPromoteTickMS int

	// Inventory state machine
	LowStockThreshold    int
	InventoryCooldownMin int
	ResumeDelayMin       int
	ResumeSweepBatchSize int

	// Error / health monitor
	EscalationAttemptsMin   int
	ConsecutiveFailureLimit int
	FailureRateThresholdPct int
	FailureRateWindowMin    int
	FailureRateMinSamples   int
	HealthCooldownMin       int

	// Currency rates
	ExchangeRatePair string

	// Maintenance
	JobLogRetentionDays int

	// Escalation channel
	EscalationWebhookURL string
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "shelfjet-worker"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Port:        getenv("PORT", "8082"),

		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		WebAppURL:     strings.TrimRight(getenv("WEB_APP_URL", "http://localhost:3001"), "/"),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "shelfjet"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		JobMaxAttempts:       getenvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBaseSec:    getenvInt("JOB_BACKOFF_BASE_SEC", 5),
		ShutdownGraceSec:     getenvInt("SHUTDOWN_GRACE_SEC", 30),
		SchedulerTickSec:     getenvInt("SCHEDULER_TICK_SEC", 15),
		DelayedPromoteTickMS: getenvInt("DELAYED_PROMOTE_TICK_MS", 1000),

		LowStockThreshold:    getenvInt("LOW_STOCK_THRESHOLD", 3),
		InventoryCooldownMin: getenvInt("INVENTORY_ALERT_COOLDOWN_MIN", 60),
		ResumeDelayMin:       getenvInt("LISTING_RESUME_DELAY_MIN", 30),
		ResumeSweepBatchSize: getenvInt("RESUME_SWEEP_BATCH_SIZE", 100),

		EscalationAttemptsMin:   getenvInt("ESCALATION_ATTEMPTS_MIN", 2),
		ConsecutiveFailureLimit: getenvInt("CONSECUTIVE_FAILURE_LIMIT", 3),
		FailureRateThresholdPct: getenvInt("FAILURE_RATE_THRESHOLD_PCT", 50),
		FailureRateWindowMin:    getenvInt("FAILURE_RATE_WINDOW_MIN", 60),
		FailureRateMinSamples:   getenvInt("FAILURE_RATE_MIN_SAMPLES", 5),
		HealthCooldownMin:       getenvInt("HEALTH_ALERT_COOLDOWN_MIN", 30),

		ExchangeRatePair:    getenv("EXCHANGE_RATE_PAIR", "USD/JPY"),
		JobLogRetentionDays: getenvInt("JOB_LOG_RETENTION_DAYS", 30),

		EscalationWebhookURL: strings.TrimSpace(getenv("ESCALATION_WEBHOOK_URL", "")),
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
