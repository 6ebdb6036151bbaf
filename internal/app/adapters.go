package app

import (
	"strings"

	"github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/internal/cache"
	"github.com/charlesng35/dentaldesk/internal/database"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
)

// ConnectionConfig converts DatabaseConfig into database.Open parameters.
// Host based settings are taken from the section matching the driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:  strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:    c.Path,
		DSN:     c.DSN,
		Options: c.Options,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	return cfg
}

// ManagerOptions converts CacheConfig into cache manager options. Unset
// values keep the cache defaults.
func (c CacheConfig) ManagerOptions() []cache.Option {
	var opts []cache.Option
	if c.MaxSize > 0 {
		opts = append(opts, cache.WithMaxSize(c.MaxSize))
	}
	if c.TTL > 0 {
		opts = append(opts, cache.WithDefaultTTL(c.TTL))
	}
	return opts
}

// HandlerOptions converts ResilienceConfig into error handler options. The
// queue is supplied by the caller because it needs the database.
func (c ResilienceConfig) HandlerOptions(queue errorhandler.Queue) []errorhandler.Option {
	opts := []errorhandler.Option{
		errorhandler.WithMaxRetries(c.MaxRetries),
	}
	if c.BaseDelay > 0 {
		opts = append(opts, errorhandler.WithBaseDelay(c.BaseDelay))
	}
	if c.ProtocolBaseDelay > 0 {
		opts = append(opts, errorhandler.WithProtocolBaseDelay(c.ProtocolBaseDelay))
	}
	if c.QueueWrites && queue != nil {
		opts = append(opts, errorhandler.WithQueue(queue))
	}
	return opts
}

// StoreConfig converts BreakerConfig into circuit breaker settings.
func (c BreakerConfig) StoreConfig() docstore.BreakerConfig {
	return docstore.BreakerConfig{
		ConsecutiveFailures: uint32(max(0, c.ConsecutiveFailures)),
		OpenTimeout:         c.OpenTimeout,
	}
}

// TokenServiceConfig converts AuthConfig into the parameters expected by the token service.
func (c AuthConfig) TokenServiceConfig() auth.Config {
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}

	return auth.Config{
		Secret:   c.Secret,
		Issuer:   c.Issuer,
		Audience: c.Audience,
		TokenTTL: ttl,
	}
}
