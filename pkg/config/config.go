package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database path.
	DefaultSQLitePath = "./runtrackr.db"

	// DefaultMonitorInterval is how often the stuck-run monitor scans.
	DefaultMonitorInterval = "5m"

	// DefaultMonitorTimeout is how long a run may go without a new
	// event before it is considered stuck and canceled.
	DefaultMonitorTimeout = "2h"

	// DefaultMonitorConcurrency is how many runs the monitor inspects
	// in parallel.
	DefaultMonitorConcurrency = 4
)

// Config is the root configuration for runtrackr.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Auth      AuthConfig      `yaml:"auth,omitempty"`
	Monitor   *MonitorConfig  `yaml:"monitor,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Public        RateLimitTier `yaml:"public,omitempty"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// ArtifactsConfig contains artifact storage backend settings. Only one
// backend (local or S3) may be enabled at a time.
type ArtifactsConfig struct {
	Local *LocalArtifactsConfig `yaml:"local,omitempty"`
	S3    *S3ArtifactsConfig    `yaml:"s3,omitempty"`
}

// LocalArtifactsConfig reads artifacts from a local directory.
type LocalArtifactsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseDir string `yaml:"base_dir"`
}

// S3ArtifactsConfig reads artifacts from S3-compatible storage.
type S3ArtifactsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// AuthConfig contains authentication settings for the API.
type AuthConfig struct {
	Enabled       bool       `yaml:"enabled"`
	AnonymousRead bool       `yaml:"anonymous_read"`
	Users         []AuthUser `yaml:"users,omitempty"`
}

// AuthUser defines a basic auth user seeded from config.
type AuthUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// MonitorConfig configures the background stuck-run monitor.
type MonitorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Monitor != nil {
		if c.Monitor.Interval == "" {
			c.Monitor.Interval = DefaultMonitorInterval
		}

		if c.Monitor.Timeout == "" {
			c.Monitor.Timeout = DefaultMonitorTimeout
		}

		if c.Monitor.Concurrency <= 0 {
			c.Monitor.Concurrency = DefaultMonitorConcurrency
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	localEnabled := c.Artifacts.Local != nil && c.Artifacts.Local.Enabled
	s3Enabled := c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled

	if localEnabled && s3Enabled {
		return fmt.Errorf("only one artifacts backend may be enabled")
	}

	if localEnabled && c.Artifacts.Local.BaseDir == "" {
		return fmt.Errorf("artifacts.local.base_dir is required")
	}

	if s3Enabled && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required")
	}

	if c.Auth.Enabled {
		if len(c.Auth.Users) == 0 {
			return fmt.Errorf("auth is enabled but no users are configured")
		}

		seen := make(map[string]struct{}, len(c.Auth.Users))

		for i, u := range c.Auth.Users {
			if u.Username == "" || u.Password == "" {
				return fmt.Errorf("auth user %d: username and password are required", i)
			}

			if _, exists := seen[u.Username]; exists {
				return fmt.Errorf("auth user %d: duplicate username %q", i, u.Username)
			}

			seen[u.Username] = struct{}{}
		}
	}

	if c.Monitor != nil && c.Monitor.Enabled {
		if _, err := time.ParseDuration(c.Monitor.Interval); err != nil {
			return fmt.Errorf("invalid monitor interval %q: %w", c.Monitor.Interval, err)
		}

		if _, err := time.ParseDuration(c.Monitor.Timeout); err != nil {
			return fmt.Errorf("invalid monitor timeout %q: %w", c.Monitor.Timeout, err)
		}
	}

	return nil
}

// ArtifactsEnabled reports whether any artifacts backend is configured.
func (c *Config) ArtifactsEnabled() bool {
	return (c.Artifacts.Local != nil && c.Artifacts.Local.Enabled) ||
		(c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled)
}
