package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// Provider selection: "auto" or a forced provider name.
	ProviderMode string

	// Generic OpenAI-compatible remote endpoint.
	RemoteAPIKey  string
	RemoteBaseURL string
	RemoteModel   string
	RemoteTimeout time.Duration

	// Process-local inference backend.
	LocalBaseURL   string
	LocalModel     string
	LocalTimeout   time.Duration
	HealthCacheTTL time.Duration

	// Hosted partner API.
	PartnerAPIKey  string
	PartnerModel   string
	PartnerTimeout time.Duration

	// Policy engine.
	MaxInputChars  int
	RateLimitRPS   float64
	RateLimitBurst int

	// Token budget.
	TokenBudget     int
	MaxOutputTokens int

	// Identity resolution for privileged diagnostics.
	AdminRole string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ProviderMode: strings.ToLower(strings.TrimSpace(getEnv("PROVIDER_MODE", "auto"))),

		RemoteAPIKey:  getEnv("REMOTE_API_KEY", ""),
		RemoteBaseURL: getEnv("REMOTE_BASE_URL", ""),
		RemoteModel:   getEnv("REMOTE_MODEL", "gpt-4o-mini"),
		RemoteTimeout: getEnvAsDuration("REMOTE_TIMEOUT", 45*time.Second),

		LocalBaseURL:   getEnv("LOCAL_BASE_URL", "http://localhost:11434"),
		LocalModel:     getEnv("LOCAL_MODEL", "llama3"),
		LocalTimeout:   getEnvAsDuration("LOCAL_TIMEOUT", 12*time.Second),
		HealthCacheTTL: getEnvAsDuration("HEALTH_CACHE_TTL", 5*time.Second),

		PartnerAPIKey:  getEnv("PARTNER_API_KEY", ""),
		PartnerModel:   getEnv("PARTNER_MODEL", "gemini-2.5-flash"),
		PartnerTimeout: getEnvAsDuration("PARTNER_TIMEOUT", 45*time.Second),

		MaxInputChars:  getEnvAsInt("MAX_INPUT_CHARS", 4000),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0.5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),

		TokenBudget:     getEnvAsInt("TOKEN_BUDGET", 6000),
		MaxOutputTokens: getEnvAsInt("MAX_OUTPUT_TOKENS", 1024),

		AdminRole: getEnv("ADMIN_ROLE", "admin"),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
