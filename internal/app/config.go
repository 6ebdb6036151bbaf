package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the DentalDesk backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Resilience  ResilienceConfig  `mapstructure:"resilience"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles API calls per owner. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Postgres DBAuthConfig      `mapstructure:"postgres"`
	MySQL    DBAuthConfig      `mapstructure:"mysql"`
	Options  map[string]string `mapstructure:"options"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig sizes the per-collection document caches.
type CacheConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ResilienceConfig tunes retries and the deferred write queue.
type ResilienceConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	ProtocolBaseDelay time.Duration `mapstructure:"protocol_base_delay"`
	QueueWrites       bool          `mapstructure:"queue_writes"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig guards the document store with a circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// MaintenanceConfig schedules background jobs. Schedules use cron syntax
// with an optional seconds field; an empty schedule disables the job.
type MaintenanceConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DrainSchedule    string        `mapstructure:"drain_schedule"`
	DrainBatch       int           `mapstructure:"drain_batch"`
	SweepSchedule    string        `mapstructure:"sweep_schedule"`
	PurgeSchedule    string        `mapstructure:"purge_schedule"`
	PendingRetention time.Duration `mapstructure:"pending_retention"`
}

// MonitoringConfig enables metrics and health probes.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health"`
}

// HealthConfig tunes the liveness and readiness probes.
type HealthConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	PendingThreshold int           `mapstructure:"pending_threshold"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DENTALDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("config: cache.max_size must not be negative")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("config: resilience.max_retries must not be negative")
	}
	if c.Resilience.Breaker.ConsecutiveFailures < 0 {
		return fmt.Errorf("config: resilience.breaker.consecutive_failures must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.requests", 600)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dentaldesk.sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.cleanup_interval", "1m")

	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_delay", "1s")
	v.SetDefault("resilience.protocol_base_delay", "2s")
	v.SetDefault("resilience.queue_writes", true)
	v.SetDefault("resilience.breaker.enabled", true)
	v.SetDefault("resilience.breaker.consecutive_failures", 5)
	v.SetDefault("resilience.breaker.open_timeout", "30s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "dentaldesk")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.drain_schedule", "@every 30s")
	v.SetDefault("maintenance.drain_batch", 100)
	v.SetDefault("maintenance.sweep_schedule", "@every 5m")
	v.SetDefault("maintenance.purge_schedule", "@daily")
	v.SetDefault("maintenance.pending_retention", "168h") // 7 days

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health.enabled", true)
	v.SetDefault("monitoring.health.probe_timeout", "3s")
	v.SetDefault("monitoring.health.pending_threshold", 500)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
