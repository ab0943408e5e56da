package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	AccessTokenSecret  string // Required: HS256 key for the access/api family (min 32 bytes)
	RefreshTokenSecret string // Required: HS256 key for the refresh family (min 32 bytes)

	DatabaseFile string // Optional: path to SQLite database file (default: ./auth.db)
	PepperFile   string // Optional: path to file containing pepper for password hashing (default: ./pepper)

	AccessTokenTTL  time.Duration // Optional: access token lifetime (default: 1h)
	RefreshTokenTTL time.Duration // Optional: refresh token lifetime (default: 168h)
	APITokenTTL     time.Duration // Optional: api token lifetime (default: 720h)
	SessionIdleTTL  time.Duration // Optional: session idle timeout (default: 30m)

	DefaultUsageQuota int64         // Optional: per-period quota for new clients (default: 1000)
	QuotaPeriod       time.Duration // Optional: usage quota reset period (default: 24h)

	LoginAttempts int           // Optional: credential attempts per window per principal (default: 10)
	LoginWindow   time.Duration // Optional: throttle window (default: 1m)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:             os.Getenv("AUTH_ISSUER"),
		AccessTokenSecret:  os.Getenv("AUTH_ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("AUTH_REFRESH_TOKEN_SECRET"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		AccessTokenTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 1*time.Hour),
		RefreshTokenTTL: getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		APITokenTTL:     getEnvDurationOrDefault("AUTH_API_TOKEN_TTL", 30*24*time.Hour),
		SessionIdleTTL:  getEnvDurationOrDefault("AUTH_SESSION_IDLE_TTL", 30*time.Minute),

		DefaultUsageQuota: int64(getEnvIntOrDefault("AUTH_DEFAULT_USAGE_QUOTA", 1000)),
		QuotaPeriod:       getEnvDurationOrDefault("AUTH_QUOTA_PERIOD", 24*time.Hour),

		LoginAttempts: getEnvIntOrDefault("AUTH_LOGIN_ATTEMPTS", 10),
		LoginWindow:   getEnvDurationOrDefault("AUTH_LOGIN_WINDOW", 1*time.Minute),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "authcore"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
