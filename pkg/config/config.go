package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/skyguard-io/skyguard/pkg/federated"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Federated     FederatedConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis settings for the sign-in rate limiter.
// Redis is optional; an empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Fixed-window limit on sign-in attempts per client address.
	LoginLimit  int
	LoginWindow time.Duration
}

// AuthConfig holds local token issuing settings
type AuthConfig struct {
	// TokenSecret signs locally issued access tokens. Must be at least
	// 32 bytes or startup fails.
	TokenSecret string
}

// FederatedConfig holds identity provider settings. Leaving TenantID or
// ClientID empty disables the federated scheme entirely.
type FederatedConfig struct {
	TenantID        string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	Authority       string
	SecurityGroupID string
	ExtraAudiences  []string

	AutoRefreshInterval time.Duration
	MinRefreshInterval  time.Duration
}

// Enabled reports whether the federated scheme is configured.
func (f FederatedConfig) Enabled() bool {
	return f.TenantID != "" && f.ClientID != ""
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// minTokenSecretLength matches the issuer's requirement for HS512 keys.
const minTokenSecretLength = 32

// LoadConfig loads configuration from the environment. A .env file in
// the working directory is read first when present, without overriding
// variables already set.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SKYGUARD_HOST", "0.0.0.0"),
			Port:            getEnv("SKYGUARD_PORT", "8080"),
			ReadTimeout:     getEnvDuration("SKYGUARD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SKYGUARD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SKYGUARD_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SKYGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvList("SKYGUARD_ALLOWED_ORIGINS", []string{"*"}),
			HealthPort:      getEnv("SKYGUARD_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("SKYGUARD_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("SKYGUARD_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("SKYGUARD_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:        getEnv("SKYGUARD_REDIS_ADDR", ""),
			Password:    getEnv("SKYGUARD_REDIS_PASSWORD", ""),
			DB:          getEnvInt("SKYGUARD_REDIS_DB", 0),
			LoginLimit:  getEnvInt("SKYGUARD_LOGIN_RATE_LIMIT", 10),
			LoginWindow: getEnvDuration("SKYGUARD_LOGIN_RATE_WINDOW", time.Minute),
		},
		Auth: AuthConfig{
			TokenSecret: getEnv("SKYGUARD_TOKEN_SECRET", ""),
		},
		Federated: FederatedConfig{
			TenantID:            getEnv("SKYGUARD_AAD_TENANT_ID", ""),
			ClientID:            getEnv("SKYGUARD_AAD_CLIENT_ID", ""),
			ClientSecret:        getEnv("SKYGUARD_AAD_CLIENT_SECRET", ""),
			RedirectURL:         getEnv("SKYGUARD_AAD_REDIRECT_URL", ""),
			Authority:           getEnv("SKYGUARD_AAD_AUTHORITY", federated.DefaultAuthority),
			SecurityGroupID:     getEnv("SKYGUARD_SECURITY_GROUP_ID", ""),
			ExtraAudiences:      getEnvList("SKYGUARD_AAD_EXTRA_AUDIENCES", nil),
			AutoRefreshInterval: getEnvDuration("SKYGUARD_KEYSET_REFRESH_INTERVAL", federated.DefaultAutoRefreshInterval),
			MinRefreshInterval:  getEnvDuration("SKYGUARD_KEYSET_MIN_REFRESH", federated.DefaultMinRefreshInterval),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("SKYGUARD_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("SKYGUARD_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if len(c.Auth.TokenSecret) < minTokenSecretLength {
		return fmt.Errorf("token secret must be at least %d bytes, got %d", minTokenSecretLength, len(c.Auth.TokenSecret))
	}

	if c.Federated.Enabled() && c.Federated.Authority == "" {
		return fmt.Errorf("authority is required when federated sign-in is configured")
	}

	if c.Redis.Addr != "" {
		if c.Redis.LoginLimit <= 0 {
			return fmt.Errorf("login rate limit must be positive")
		}
		if c.Redis.LoginWindow <= 0 {
			return fmt.Errorf("login rate window must be positive")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
