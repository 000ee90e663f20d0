package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jobgate/jobgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional, used for distributed rate limiting)
	Redis RedisConfig

	// Scheduler holds the external xxl-job-admin connection settings
	Scheduler SchedulerConfig

	// Auth configuration
	Auth AuthConfig

	// Audit configuration
	Audit AuditConfig

	// Seed configuration (initial admin account)
	Seed SeedConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL     string
	Enabled bool
}

// SchedulerConfig holds xxl-job-admin client configuration
type SchedulerConfig struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration

	// FetchCap bounds the page size used when listing jobs on behalf of
	// non-admin users (filtering happens locally, see pkg/jobs)
	FetchCap int

	// GroupCacheTTL bounds how long the executor group list may be served
	// from cache
	GroupCacheTTL time.Duration
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AuditConfig holds audit log retention configuration
type AuditConfig struct {
	RetentionDays   int
	CleanupSchedule string
}

// SeedConfig controls first-boot seeding of the admin account and the
// default roles
type SeedConfig struct {
	Enabled       bool
	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Scheduler:     loadSchedulerConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		Seed:          loadSeedConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("JOBGATE_HOST", "0.0.0.0"),
		Port:            getEnv("JOBGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("JOBGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("JOBGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("JOBGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("JOBGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("JOBGATE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("JOBGATE_POSTGRES_URL", "postgres://localhost/jobgate?sslmode=disable"),
		MaxOpenConns:    getEnvInt("JOBGATE_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("JOBGATE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("JOBGATE_DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	url := getEnv("JOBGATE_REDIS_URL", "")
	return RedisConfig{
		URL:     url,
		Enabled: url != "",
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseURL:        getEnv("JOBGATE_XXL_ADMIN_URL", "http://localhost:8088/xxl-job-admin"),
		Username:       getEnv("JOBGATE_XXL_USERNAME", "admin"),
		Password:       getEnv("JOBGATE_XXL_PASSWORD", ""),
		RequestTimeout: getEnvDuration("JOBGATE_XXL_TIMEOUT", 10*time.Second),
		FetchCap:       getEnvInt("JOBGATE_XXL_FETCH_CAP", 10000),
		GroupCacheTTL:  getEnvDuration("JOBGATE_XXL_GROUP_CACHE_TTL", 30*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:       getEnv("JOBGATE_JWT_SECRET", ""),
		AccessTokenTTL:  getEnvDuration("JOBGATE_ACCESS_TOKEN_TTL", 2*time.Hour),
		RefreshTokenTTL: getEnvDuration("JOBGATE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays:   getEnvInt("JOBGATE_AUDIT_RETENTION_DAYS", 90),
		CleanupSchedule: getEnv("JOBGATE_AUDIT_CLEANUP_SCHEDULE", "30 3 * * *"),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		Enabled:       getEnvBool("JOBGATE_SEED_ENABLED", true),
		AdminUsername: getEnv("JOBGATE_SEED_ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("JOBGATE_SEED_ADMIN_PASSWORD", "admin123"),
		AdminEmail:    getEnv("JOBGATE_SEED_ADMIN_EMAIL", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("JOBGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("JOBGATE_METRICS_ENABLED", true),
	}
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

	if c.Scheduler.BaseURL == "" {
		return fmt.Errorf("scheduler admin URL is required")
	}
	if c.Scheduler.FetchCap <= 0 {
		return fmt.Errorf("scheduler fetch cap must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}

	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
