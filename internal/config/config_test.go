package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "auto", cfg.ProviderMode)
	assert.Equal(t, 4000, cfg.MaxInputChars)
	assert.Equal(t, 0.5, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, 6000, cfg.TokenBudget)
	assert.Equal(t, 1024, cfg.MaxOutputTokens)
	assert.Equal(t, 45*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 12*time.Second, cfg.LocalTimeout)
	assert.Equal(t, 5*time.Second, cfg.HealthCacheTTL)
	assert.Equal(t, "http://localhost:11434", cfg.LocalBaseURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER_MODE", " Remote ")
	t.Setenv("MAX_INPUT_CHARS", "1234")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOCAL_TIMEOUT", "3s")
	t.Setenv("REMOTE_API_KEY", "key-123")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "remote", cfg.ProviderMode, "mode is trimmed and lowercased")
	assert.Equal(t, 1234, cfg.MaxInputChars)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 3*time.Second, cfg.LocalTimeout)
	assert.Equal(t, "key-123", cfg.RemoteAPIKey)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_INPUT_CHARS", "not-a-number")
	t.Setenv("REMOTE_TIMEOUT", "not-a-duration")

	cfg := Load()
	assert.Equal(t, 4000, cfg.MaxInputChars)
	assert.Equal(t, 45*time.Second, cfg.RemoteTimeout)
}
