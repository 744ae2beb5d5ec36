// Package config provides environment-driven configuration for the capital
// engine. Values load from the process environment with typed helpers and
// documented defaults; entry points may hydrate the environment from a .env
// file first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration bundle.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Jobs     JobsConfig
	Logging  LoggingConfig
	Auth     AuthConfig
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig covers the postgres store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// JobsConfig covers the scheduler.
type JobsConfig struct {
	MaxConcurrentJobs  int
	SyncThreshold      time.Duration
	MaxJobAge          time.Duration
	CleanupSchedule    string
	WebhookMaxRetries  uint64
	WebhookInitialWait time.Duration
	WebhookTimeout     time.Duration
}

// LoggingConfig covers structured logging.
type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig covers the optional bearer-token gate on mutating endpoints.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            GetEnv("ORM_HOST", "0.0.0.0"),
			Port:            GetEnvInt("ORM_PORT", 8000),
			ReadTimeout:     GetEnvDuration("ORM_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    GetEnvDuration("ORM_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: GetEnvDuration("ORM_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             GetEnv("ORM_DATABASE_DSN", ""),
			MaxOpenConns:    GetEnvInt("ORM_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    GetEnvInt("ORM_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: GetEnvDuration("ORM_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs:  GetEnvInt("ORM_MAX_CONCURRENT_JOBS", 50),
			SyncThreshold:      GetEnvDuration("ORM_SYNC_THRESHOLD", 60*time.Second),
			MaxJobAge:          GetEnvDuration("ORM_MAX_JOB_AGE", 24*time.Hour),
			CleanupSchedule:    GetEnv("ORM_JOB_CLEANUP_SCHEDULE", "@every 1h"),
			WebhookMaxRetries:  uint64(GetEnvInt("ORM_WEBHOOK_MAX_RETRIES", 5)),
			WebhookInitialWait: GetEnvDuration("ORM_WEBHOOK_INITIAL_WAIT", 2*time.Second),
			WebhookTimeout:     GetEnvDuration("ORM_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("ORM_LOG_LEVEL", "info"),
			Format: GetEnv("ORM_LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			Enabled:   GetEnvBool("ORM_AUTH_ENABLED", false),
			JWTSecret: GetEnv("ORM_JWT_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Jobs.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", c.Jobs.MaxConcurrentJobs)
	}
	if c.Jobs.SyncThreshold <= 0 {
		return fmt.Errorf("sync threshold must be positive, got %s", c.Jobs.SyncThreshold)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("ORM_JWT_SECRET is required when auth is enabled")
	}
	return nil
}

// GetEnv retrieves an environment variable with optional default.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable with optional default.
// Accepts: "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable with optional default.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration retrieves a duration environment variable with optional
// default. Accepts Go duration syntax ("90s", "2h").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}
