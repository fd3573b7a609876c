package app

import (
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/service"
)

type Config struct {
	FilePath string // Required: path to the protected file on disk
	FileName string // Optional: attachment filename sent to clients (default: basename of FilePath)

	DatabaseFile string // Optional: path to SQLite database file (default: ./droplock.db)
	SecretFile   string // Optional: path to the link-signing key file (default: ./secret.key)

	LinkTTL     time.Duration // Optional: capability URL lifetime (default: 1s)
	GraceWindow time.Duration // Optional: retry window after first redemption (default: 15m)
	MaxAttempts int           // Optional: download attempts per code inside the window (default: 3)
	GenerateMax int           // Optional: largest admin generation batch (default: 5000)

	AdminPassword     string // Optional: plaintext admin password, hashed at startup
	AdminPasswordHash string // Optional: pre-hashed admin password (takes precedence)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		FilePath: os.Getenv("DROPLOCK_FILE_PATH"),
		FileName: os.Getenv("DROPLOCK_FILE_NAME"),

		DatabaseFile: getEnvOrDefault("DROPLOCK_DATABASE_FILE", "droplock.db"),
		SecretFile:   getEnvOrDefault("DROPLOCK_SECRET_FILE", "secret.key"),

		LinkTTL:     getEnvDurationOrDefault("DROPLOCK_LINK_TTL", service.DefaultLinkTTL),
		GraceWindow: getEnvDurationOrDefault("DROPLOCK_GRACE_WINDOW", service.DefaultGraceWindow),
		MaxAttempts: getEnvIntOrDefault("DROPLOCK_MAX_ATTEMPTS", service.DefaultMaxAttempts),
		GenerateMax: getEnvIntOrDefault("DROPLOCK_GENERATE_MAX", service.DefaultMaxBatch),

		AdminPassword:     os.Getenv("DROPLOCK_ADMIN_PASSWORD"),
		AdminPasswordHash: os.Getenv("DROPLOCK_ADMIN_PASSWORD_HASH"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
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

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
