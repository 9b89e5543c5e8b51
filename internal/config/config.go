package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for flowfarm
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FLOWFARM_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"FLOWFARM_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	APIKey   string `env:"FLOWFARM_API_KEY"`

	// Backend for workflows, run snapshots and the event bus
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`

	// Backend for accounts and proxy pools (STORE_BACKEND when empty)
	EntityBackend string `env:"ENTITY_BACKEND"`

	// Redis configuration
	Redis RedisConfig

	// PostgreSQL configuration
	Postgres PostgresConfig

	// Engine configuration
	Engine EngineConfig

	// Run registry configuration
	Runs RunsConfig

	// Browser profile service configuration
	Profiles ProfileConfig

	// Mailbox configuration
	Mail MailConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Event stream trimming
	StreamMaxLen int64 `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN     string `env:"POSTGRES_DSN"`
	Migrate bool   `env:"POSTGRES_MIGRATE" envDefault:"true"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	StepTimeout    time.Duration `env:"ENGINE_STEP_TIMEOUT" envDefault:"60s"`
	MaxSteps       int           `env:"ENGINE_MAX_STEPS" envDefault:"10000"`
	MaxLogEntries  int           `env:"ENGINE_MAX_LOG_ENTRIES" envDefault:"1000"`
	ReleaseTimeout time.Duration `env:"ENGINE_RELEASE_TIMEOUT" envDefault:"30s"`
}

// RunsConfig holds run registry configuration
type RunsConfig struct {
	Retention           time.Duration `env:"RUN_RETENTION" envDefault:"1h"`
	JanitorInterval     time.Duration `env:"RUN_JANITOR_INTERVAL" envDefault:"1m"`
	SnapshotTTL         time.Duration `env:"RUN_SNAPSHOT_TTL" envDefault:"168h"`
	HealthCheckInterval time.Duration `env:"RUN_HEALTH_CHECK_INTERVAL" envDefault:"15s"`
}

// ProfileConfig holds browser profile service configuration
type ProfileConfig struct {
	APIURL     string        `env:"PROFILE_API_URL"`
	APIKey     string        `env:"PROFILE_API_KEY"`
	LocalDir   string        `env:"PROFILE_LOCAL_DIR"`
	Timeout    time.Duration `env:"PROFILE_API_TIMEOUT" envDefault:"30s"`
	MaxRetries uint64        `env:"PROFILE_API_MAX_RETRIES" envDefault:"3"`
}

// MailConfig holds mailbox configuration
type MailConfig struct {
	IMAPAddr  string        `env:"MAIL_IMAP_ADDR" envDefault:"outlook.office365.com:993"`
	TokenURL  string        `env:"MAIL_TOKEN_URL" envDefault:"https://login.microsoftonline.com/common/oauth2/v2.0/token"`
	Scopes    []string      `env:"MAIL_SCOPES" envSeparator:"," envDefault:"https://outlook.office.com/IMAP.AccessAsUser.All,offline_access"`
	Mechanism string        `env:"MAIL_SASL_MECHANISM" envDefault:"XOAUTH2"`
	Folders   []string      `env:"MAIL_FOLDERS" envSeparator:"," envDefault:"INBOX,Junk"`
	Timeout   time.Duration `env:"MAIL_TIMEOUT" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate backends
	switch c.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid store backend: %s (must be memory or redis)", c.StoreBackend)
	}
	switch c.EntityStoreBackend() {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid entity backend: %s (must be memory, redis or postgres)", c.EntityStoreBackend())
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.EntityStoreBackend() == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres DSN is required for the postgres entity backend")
	}

	// Validate engine config
	if c.Engine.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive")
	}
	if c.Engine.MaxSteps < 1 {
		return fmt.Errorf("max steps must be at least 1")
	}
	if c.Engine.MaxLogEntries < 1 {
		return fmt.Errorf("max log entries must be at least 1")
	}
	if c.Runs.Retention <= 0 || c.Runs.JanitorInterval <= 0 {
		return fmt.Errorf("run retention and janitor interval must be positive")
	}

	// Validate profile service URL
	if c.Profiles.APIURL != "" {
		u, err := url.Parse(c.Profiles.APIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid profile API URL: %s", c.Profiles.APIURL)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// EntityStoreBackend returns the backend for accounts and proxies
func (c *Config) EntityStoreBackend() string {
	if c.EntityBackend == "" {
		return c.StoreBackend
	}
	return c.EntityBackend
}

// UsesRedis reports whether any component needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.StoreBackend == BackendRedis || c.EntityStoreBackend() == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
