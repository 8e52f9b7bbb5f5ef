package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the immutable configuration snapshot built once at startup
// and passed explicitly to the components that need it. Request behavior is
// fully determined by the snapshot plus the request itself; nothing reads
// ambient globals mid-call.
type AppConfig struct {
	Port        string
	Environment string // "production" or "sandbox"
	BaseURL     string

	DBPath string

	OpenSearchURL  string
	OpenSearchUser string
	OpenSearchPass string
	EnableLogging  bool
	LoggingLevel   string

	RedisAddr string
	RedisPass string
	RedisDB   int

	APIKey string

	// VerifyTimeout bounds a single outbound verification call.
	VerifyTimeout time.Duration
	// DispatchBudget is the wall-clock budget for one inbound notification.
	DispatchBudget time.Duration
	// ReserveTTL is the pending-reservation expiry of the idempotency
	// ledger; a crash between reserve and commit unblocks after this.
	ReserveTTL time.Duration
}

// IsProduction reports whether the snapshot was built for production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Load builds the configuration snapshot from the environment.
func Load() *AppConfig {
	return &AppConfig{
		Port:           GetEnv("APP_PORT", "9080"),
		Environment:    GetEnv("ENVIRONMENT", "sandbox"),
		BaseURL:        GetEnv("APP_URL", "http://localhost:9080"),
		DBPath:         GetEnv("DB_PATH", "data/shop.db"),
		OpenSearchURL:  GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser: GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass: GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:  GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
		LoggingLevel:   GetEnv("LOGGING_LEVEL", "info"),
		RedisAddr:      GetEnv("REDIS_ADDR", ""),
		RedisPass:      GetEnv("REDIS_PASSWORD", ""),
		RedisDB:        GetIntEnv("REDIS_DB", 0),
		APIKey:         GetEnv("API_KEY", ""),
		VerifyTimeout:  GetDurationEnv("VERIFY_TIMEOUT", 5*time.Second),
		DispatchBudget: GetDurationEnv("DISPATCH_BUDGET", 20*time.Second),
		ReserveTTL:     GetDurationEnv("RESERVE_TTL", 2*time.Minute),
	}
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value.
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value.
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetDurationEnv returns the duration value of an environment variable or a default value.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// SplitList splits a comma-separated env value into trimmed items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
