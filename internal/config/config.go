// Package config provides centralized configuration management for the
// forecast pipeline. Process-level settings (API keys, cache locations,
// optional Redis and Postgres) come from environment variables with sensible
// defaults; the forecast entities themselves are loaded from a TOML file by
// LoadForecastConfig.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration. It aggregates API
// credentials, cache and output directories, and optional infrastructure
// backends.
type Config struct {
	Keys          Keys
	Paths         Paths
	Redis         RedisConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig

	// DefaultLLM overrides the configured forecast model when set.
	DefaultLLM string

	// LogLevel overrides the default zap level ("debug", "info", "warn").
	LogLevel string

	// HTTPTimeout is the default client timeout for provider calls.
	HTTPTimeout time.Duration
}

// Keys carries provider API credentials. Empty keys disable the matching
// provider; the pipeline degrades per its fallback rules.
type Keys struct {
	OpenAI         string
	Gemini         string
	OpenRouter     string
	Google         string
	OpenWeatherMap string
}

// Paths locates the cache tree and the static site output.
type Paths struct {
	// CacheRoot holds geocode/, forecasts/, impact/, processed/, prompts/.
	CacheRoot string

	// WebRoot is the default site output; the forecast config may override it.
	WebRoot string
}

// RedisConfig contains settings for the optional Redis cache and rate
// limiter. When disabled, in-memory equivalents are used.
type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig contains PostgreSQL settings for the optional run archive.
type DatabaseConfig struct {
	Enabled               bool
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// ObservabilityConfig contains settings for metrics and tracing.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsPort    string
	OTLPEndpoint   string
	SampleRate     float64
}

// RateLimitConfig throttles outbound provider traffic.
type RateLimitConfig struct {
	RPS    int
	Window time.Duration
}

// Load reads configuration from environment variables and returns a Config
// instance.
//
// Returns:
//   - *Config: Configuration with values from environment or defaults
func Load() *Config {
	return &Config{
		Keys: Keys{
			OpenAI:         getEnv("OPENAI_API_KEY", ""),
			Gemini:         getEnv("GEMINI_API_KEY", ""),
			OpenRouter:     getEnv("OPENROUTER_API_KEY", ""),
			Google:         getEnv("GOOGLE_API_KEY", ""),
			OpenWeatherMap: getEnv("OPENWEATHERMAP_API_KEY", ""),
		},
		Paths: Paths{
			CacheRoot: getEnv("FORECAST_CACHE_DIR", "forecast_cache"),
			WebRoot:   getEnv("FORECAST_WEB_ROOT", "outputs"),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     10,
			MinIdleConns: 5,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:               getEnvAsBool("DATABASE_ENABLED", false),
			Host:                  getEnv("DB_HOST", "localhost"),
			Port:                  getEnvAsInt("DB_PORT", 5432),
			User:                  getEnv("DB_USER", "forecast"),
			Password:              getEnv("DB_PASSWORD", ""),
			Database:              getEnv("DB_NAME", "impact_forecast"),
			SSLMode:               getEnv("DB_SSLMODE", "disable"),
			MaxConnections:        25,
			MaxIdleConnections:    5,
			ConnectionMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			ServiceName:    "impact-forecast",
			ServiceVersion: getEnv("VERSION", "1.0.0"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			MetricsPort:    getEnv("METRICS_PORT", ""),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:     0.1,
		},
		RateLimit: RateLimitConfig{
			RPS:    getEnvAsInt("RATE_LIMIT_RPS", 100),
			Window: time.Minute,
		},
		DefaultLLM:  getEnv("FORECAST_DEFAULT_LLM", ""),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		HTTPTimeout: 30 * time.Second,
	}
}

// getEnv retrieves an environment variable value with a fallback default.
//
// Parameters:
//   - key: Environment variable name
//   - defaultValue: Value to use if variable is not set
//
// Returns:
//   - string: Environment value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a fallback default.
//
// Parameters:
//   - key: Environment variable name
//   - defaultValue: Value to use if variable is not set or invalid
//
// Returns:
//   - int: Parsed integer value or default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a fallback default.
//
// Parameters:
//   - key: Environment variable name
//   - defaultValue: Value to use if variable is not set or invalid
//
// Returns:
//   - bool: Parsed boolean value or default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}

	return defaultValue
}
