package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"pdfmark/pkg/logger"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings read from the environment.
type Config struct {
	Port          string
	LogLevel      string
	JWTSecret     string
	AllowedOrigin string
	MaxUploadMB   int64
	SessionTTL    time.Duration
	DatabaseURL   string
	ExportBucket  string
}

// Load reads a .env file when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	return Config{
		Port:          GetEnv("PORT", "8080"),
		LogLevel:      GetEnv("LOG_LEVEL", "info"),
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AllowedOrigin: GetEnv("ALLOWED_ORIGIN", "*"),
		MaxUploadMB:   getInt("MAX_UPLOAD_MB", 32),
		SessionTTL:    getDuration("SESSION_TTL", 30*time.Minute),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ExportBucket:  strings.TrimSpace(os.Getenv("EXPORT_BUCKET")),
	}
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		logger.Sugar.Warnf("Ignoring invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Sugar.Warnf("Ignoring invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
