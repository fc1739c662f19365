// Package config loads the service configuration from a file, environment
// variables and defaults, using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8080
	defaultShutdownTimeout      = 10 * time.Second
	defaultRoundingError        = 1.0 / 60
	defaultIncrementalThreshold = 300
	defaultFetchTimeout         = 5 * time.Second
	defaultHeaderTimeout        = 3 * time.Second
	defaultRetryAttempts        = 3
	defaultRetryDelay           = 100 * time.Millisecond
	defaultEvictionInterval     = 10 * time.Second
	defaultRefreshInterval      = 5 * time.Second
	defaultMinRefreshInterval   = 2 * time.Second
	defaultPlaylistSegments     = 5
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Channels []Channel      `mapstructure:"channels"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TimelineConfig tunes the representation indexes.
type TimelineConfig struct {
	// RoundingError is the tolerance, in seconds, on segment boundaries.
	RoundingError float64 `mapstructure:"rounding_error"`
	// IncrementalThreshold is the timeline size from which refreshed
	// timelines are built from the previous one.
	IncrementalThreshold int `mapstructure:"incremental_threshold"`
}

// FetchConfig configures requests to the origin.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig configures the resource cache.
type CacheConfig struct {
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// RefreshConfig configures manifest refreshes.
type RefreshConfig struct {
	// DefaultInterval is used when the MPD has no minimumUpdatePeriod.
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	// MinInterval bounds how often an origin is polled.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// PlaylistSegments is the number of segments of a live media playlist.
	PlaylistSegments int `mapstructure:"playlist_segments"`
}

// Channel is one stream served by the service.
type Channel struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	ManifestURL string `mapstructure:"manifest_url"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SEGINDEX_ and use underscores for
// nesting. Example: SEGINDEX_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("segindex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/segindex")
	}

	v.SetEnvPrefix("SEGINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("timeline.rounding_error", defaultRoundingError)
	v.SetDefault("timeline.incremental_threshold", defaultIncrementalThreshold)

	v.SetDefault("fetch.user_agent", "segindex/1.0")
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.header_timeout", defaultHeaderTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)

	v.SetDefault("cache.eviction_interval", defaultEvictionInterval)

	v.SetDefault("refresh.default_interval", defaultRefreshInterval)
	v.SetDefault("refresh.min_interval", defaultMinRefreshInterval)
	v.SetDefault("refresh.playlist_segments", defaultPlaylistSegments)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Timeline.RoundingError <= 0 {
		return fmt.Errorf("timeline.rounding_error must be positive")
	}
	if c.Timeline.IncrementalThreshold < 1 {
		return fmt.Errorf("timeline.incremental_threshold must be at least 1")
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1")
	}
	if c.Refresh.MinInterval <= 0 || c.Refresh.DefaultInterval < c.Refresh.MinInterval {
		return fmt.Errorf("refresh.default_interval must be at least refresh.min_interval, which must be positive")
	}
	if c.Refresh.PlaylistSegments < 1 {
		return fmt.Errorf("refresh.playlist_segments must be at least 1")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" || ch.ManifestURL == "" {
			return fmt.Errorf("channels[%d]: id and manifest_url are required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channels[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Channel returns the channel with the given ID.
func (c *Config) Channel(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}
