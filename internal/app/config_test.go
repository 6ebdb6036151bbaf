package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/internal/database"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, []string{"https://clinic.example.com", "http://localhost:5173"}, cfg.Server.CORSOrigins)
	require.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "require", cfg.Database.Options["sslmode"])

	require.Equal(t, 250, cfg.Cache.MaxSize)
	require.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	require.Equal(t, 30*time.Second, cfg.Cache.CleanupInterval)

	require.Equal(t, 5, cfg.Resilience.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Resilience.BaseDelay)
	require.Equal(t, 500*time.Millisecond, cfg.Resilience.ProtocolBaseDelay)
	require.False(t, cfg.Resilience.QueueWrites)

	require.Equal(t, "test-secret", cfg.Auth.Secret)
	require.Equal(t, "clinic-app", cfg.Auth.Audience)
	require.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "*/10 * * * * *", cfg.Maintenance.DrainSchedule)
	require.Equal(t, 25, cfg.Maintenance.DrainBatch)
	require.Empty(t, cfg.Maintenance.PurgeSchedule)
	require.Equal(t, 72*time.Hour, cfg.Maintenance.PendingRetention)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigDefaultsAndEnvironment(t *testing.T) {
	t.Setenv("DENTALDESK_SERVER_PORT", "7000")
	t.Setenv("DENTALDESK_RESILIENCE_MAX_RETRIES", "6")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7000, cfg.Server.Port)
	require.Equal(t, 6, cfg.Resilience.MaxRetries)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 1000, cfg.Cache.MaxSize)
	require.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "@every 30s", cfg.Maintenance.DrainSchedule)
	require.True(t, cfg.Resilience.QueueWrites)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
	require.Equal(t, 600, cfg.Server.RateLimit.Requests)
	require.True(t, cfg.Resilience.Breaker.Enabled)
	require.Equal(t, 5, cfg.Resilience.Breaker.ConsecutiveFailures)
	require.Equal(t, time.Minute, cfg.Server.RateLimit.Window)
	require.Equal(t, 3*time.Second, cfg.Monitoring.Health.ProbeTimeout)
	require.Equal(t, 500, cfg.Monitoring.Health.PendingThreshold)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DENTALDESK_DATABASE_DRIVER", "oracle")

	_, err := LoadConfig(t.TempDir())
	require.ErrorContains(t, err, "database.driver")
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "MySQL",
		Path:   "ignored.sqlite",
		MySQL: DBAuthConfig{
			Host:     "mysql.local",
			Port:     3307,
			Database: "clinic",
			Username: "root",
			Password: "pw",
		},
		Postgres: DBAuthConfig{Host: "pg.local"},
	}

	require.Equal(t, database.Config{
		Driver:   "mysql",
		Path:     "ignored.sqlite",
		Host:     "mysql.local",
		Port:     3307,
		Name:     "clinic",
		User:     "root",
		Password: "pw",
	}, cfg.ConnectionConfig())

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "clinic.sqlite", MySQL: DBAuthConfig{Host: "unused"}}
	require.Equal(t, database.Config{Driver: "sqlite", Path: "clinic.sqlite"}, sqlite.ConnectionConfig())
}

func TestCacheAndResilienceAdapters(t *testing.T) {
	require.Empty(t, CacheConfig{}.ManagerOptions())
	require.Len(t, CacheConfig{MaxSize: 10, TTL: time.Minute}.ManagerOptions(), 2)

	queue := errorhandler.NewMemoryQueue()
	handler := errorhandler.New(ResilienceConfig{
		MaxRetries:  4,
		BaseDelay:   time.Millisecond,
		QueueWrites: true,
	}.HandlerOptions(queue)...)
	require.Equal(t, 4, handler.MaxRetries)
	require.Equal(t, time.Millisecond, handler.BaseDelay)
	require.Equal(t, errorhandler.DefaultProtocolBaseDelay, handler.ProtocolBaseDelay)
}

func TestAuthConfigAdapter(t *testing.T) {
	cfg := AuthConfig{Secret: "secret", Issuer: "issuer", TokenTTL: 30 * time.Minute}
	require.Equal(t, auth.Config{
		Secret:   "secret",
		Issuer:   "issuer",
		TokenTTL: 30 * time.Minute,
	}, cfg.TokenServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultTokenTTL, empty.TokenServiceConfig().TokenTTL)
}

func TestBreakerStoreConfig(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, ConsecutiveFailures: 4, OpenTimeout: 10 * time.Second}.StoreConfig()
	require.Equal(t, uint32(4), cfg.ConsecutiveFailures)
	require.Equal(t, 10*time.Second, cfg.OpenTimeout)

	require.Equal(t, uint32(0), BreakerConfig{ConsecutiveFailures: -1}.StoreConfig().ConsecutiveFailures)
}
