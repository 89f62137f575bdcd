// Package config loads CLI configuration from an optional YAML file and
// POLLBOOTH_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// productionBuild is set at link time:
//
//	go build -ldflags "-X github.com/wolfeidau/pollbooth/internal/config.productionBuild=true"
var productionBuild = "false"

// Production reports whether this is a production build. Production
// builds mark cached session entries secure, refuse plain http servers and
// reject cache files readable by other users.
func Production() bool {
	return productionBuild == "true"
}

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendJar    = "jar"
	BackendMemory = "memory"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. POLLBOOTH_SERVER_URL.
const EnvPrefix = "POLLBOOTH"

// Config holds CLI configuration.
type Config struct {
	// ServerURL is the backend base URL.
	ServerURL string `mapstructure:"server_url"`
	// CAFile is a PEM bundle trusted instead of the system roots.
	CAFile string `mapstructure:"ca_file"`
	// Timeout bounds every HTTP call.
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheBackend selects where the session is persisted.
	CacheBackend string `mapstructure:"cache_backend"`
	// CacheDir holds the file and sqlite caches and the seal identity.
	CacheDir string `mapstructure:"cache_dir"`
	// RedisURL is required for the redis backend.
	RedisURL string `mapstructure:"redis_url"`
	// Seal encrypts cached values with an age identity kept in CacheDir.
	Seal bool `mapstructure:"seal"`
	// EarlyMargin is how long before token expiry the session is ended.
	EarlyMargin time.Duration `mapstructure:"early_margin"`
	// OTPWindow is how long a sent code can be entered.
	OTPWindow time.Duration `mapstructure:"otp_window"`

	// Production mirrors Production() for the loaded config.
	Production bool `mapstructure:"-"`
}

// DefaultDir returns ~/.pollbooth.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pollbooth"
	}
	return filepath.Join(home, ".pollbooth")
}

// Load reads path (or ~/.pollbooth/config.yaml when path is empty and
// that file exists), then applies POLLBOOTH_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "https://localhost:8080")
	v.SetDefault("ca_file", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("cache_backend", BackendFile)
	v.SetDefault("cache_dir", filepath.Join(DefaultDir(), "session"))
	v.SetDefault("redis_url", "")
	v.SetDefault("seal", false)
	v.SetDefault("early_margin", 30*time.Second)
	v.SetDefault("otp_window", 300*time.Second)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(filepath.Join(DefaultDir(), "config.yaml"))
		_ = v.ReadInConfig() // missing default file is fine
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Production = Production()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field combinations.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: server_url %q is not an absolute URL", c.ServerURL)
	}
	if c.Production && u.Scheme != "https" {
		return errors.New("config: server_url must use https in production builds")
	}

	switch c.CacheBackend {
	case BackendFile, BackendSQLite, BackendJar, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: redis_url must be set for the redis cache backend")
		}
	default:
		return fmt.Errorf("config: unknown cache_backend %q", c.CacheBackend)
	}

	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.EarlyMargin < 0 {
		return errors.New("config: early_margin must not be negative")
	}
	if c.OTPWindow <= 0 {
		return errors.New("config: otp_window must be positive")
	}

	return nil
}
