package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 20*time.Minute, cfg.Auth.ResetTTL)
	assert.Equal(t, 72*time.Hour, cfg.Auth.CookieTTL)
	assert.Equal(t, "smtp", cfg.Mail.Backend)
	assert.Equal(t, "mail.outbound", cfg.Mail.Channel)
	assert.Equal(t, 30*time.Second, cfg.Mail.SMTP.Timeout)
	assert.Empty(t, cfg.GCS.Endpoint)
	assert.False(t, cfg.Database.UseSSL)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PUBLIC_URL", "https://shop.example.com/")
	t.Setenv("JWT_SECRET", "  s3cret  ")
	t.Setenv("AUTH_RESET_TTL", "45m")
	t.Setenv("MAIL_BACKEND", "RabbitMQ")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("SMTP_TIMEOUT", "5s")
	t.Setenv("GCS_ENDPOINT", "http://localhost:4443")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "https://shop.example.com", cfg.PublicURL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 45*time.Minute, cfg.Auth.ResetTTL)
	assert.Equal(t, "rabbitmq", cfg.Mail.Backend)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, 5*time.Second, cfg.Mail.SMTP.Timeout)
	assert.Equal(t, "http://localhost:4443", cfg.GCS.Endpoint)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("AUTH_TOKEN_TTL", "-5m")
	t.Setenv("DB_USE_SSL", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Database.UseSSL)
}
