package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "JWT_SECRET", "MAX_UPLOAD_MB", "SESSION_TTL", "DATABASE_URL", "EXPORT_BUCKET", "ALLOWED_ORIGIN"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, "*", cfg.AllowedOrigin)
	assert.Equal(t, int64(32), cfg.MaxUploadMB)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_UPLOAD_MB", "4")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("EXPORT_BUCKET", " exports ")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(4), cfg.MaxUploadMB)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.Equal(t, "exports", cfg.ExportBucket)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "-3")
	t.Setenv("SESSION_TTL", "soon")

	cfg := Load()
	assert.Equal(t, int64(32), cfg.MaxUploadMB)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
}
