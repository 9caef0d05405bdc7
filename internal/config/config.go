package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every tunable for gofastd: the listener, the cache's byte
// budget, the worker pool's watermarks, and the ambient logging/metrics
// surface.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	CacheMaxMemory string `mapstructure:"cache_max_memory"`

	PoolLowWatermark  int           `mapstructure:"pool_low_watermark"`
	PoolHighWatermark int           `mapstructure:"pool_high_watermark"`
	PoolMaxQueue      int           `mapstructure:"pool_max_queue"`
	PoolIdleTimeout   time.Duration `mapstructure:"pool_idle_timeout"`
	PoolDisabled      bool          `mapstructure:"pool_disabled"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DefaultConfig returns the configuration gofastd runs with if nothing
// overrides it.
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              11311,
		CacheMaxMemory:    "64MB",
		PoolLowWatermark:  2,
		PoolHighWatermark: 16,
		PoolMaxQueue:      256,
		PoolIdleTimeout:   30 * time.Second,
		PoolDisabled:      false,
		LogLevel:          "info",
		LogFormat:         "text",
		MetricsAddr:       "127.0.0.1:9090",
	}
}

// LoadConfig loads configuration from (in ascending priority) defaults, a
// gofastd.yaml config file, and GOFASTD_-prefixed environment variables.
// Command-line flags are bound on top of this by cmd/gofastd via
// viper.BindPFlag before LoadConfig's Unmarshal call.
func LoadConfig() (*Config, error) {
	defaults := DefaultConfig()

	viper.SetConfigName("gofastd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/gofastd/")
	viper.AddConfigPath("$HOME/.gofastd")

	viper.SetEnvPrefix("GOFASTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("host", defaults.Host)
	viper.SetDefault("port", defaults.Port)
	viper.SetDefault("cache_max_memory", defaults.CacheMaxMemory)
	viper.SetDefault("pool_low_watermark", defaults.PoolLowWatermark)
	viper.SetDefault("pool_high_watermark", defaults.PoolHighWatermark)
	viper.SetDefault("pool_max_queue", defaults.PoolMaxQueue)
	viper.SetDefault("pool_idle_timeout", defaults.PoolIdleTimeout)
	viper.SetDefault("pool_disabled", defaults.PoolDisabled)
	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("log_format", defaults.LogFormat)
	viper.SetDefault("metrics_addr", defaults.MetricsAddr)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// WatchLogLevel arms viper's file watcher and invokes onChange with the
// newly configured log level whenever the config file is edited in
// place. Only log_level is treated as hot-reloadable; every other field
// requires a restart, since the listener socket, cache budget, and pool
// watermarks are all fixed at construction time.
func WatchLogLevel(onChange func(level string)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		onChange(viper.GetString("log_level"))
	})
	viper.WatchConfig()
}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// Validate rejects a Config that would misbehave if started, per this
// package's own field constraints plus the pool's watermark invariant
// (0 <= low <= high).
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if _, err := c.CacheMaxBytes(); err != nil {
		return err
	}

	if c.PoolLowWatermark < 0 {
		return fmt.Errorf("pool_low_watermark must be >= 0")
	}
	if c.PoolHighWatermark < c.PoolLowWatermark {
		return fmt.Errorf("pool_high_watermark (%d) must be >= pool_low_watermark (%d)",
			c.PoolHighWatermark, c.PoolLowWatermark)
	}
	if c.PoolMaxQueue < 1 {
		return fmt.Errorf("pool_max_queue must be at least 1")
	}

	validLevel := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// CacheMaxBytes parses CacheMaxMemory ("64MB", "512KB", "1GB", or a bare
// byte count) into a byte count suitable for cache.New.
func (c *Config) CacheMaxBytes() (int64, error) {
	size := strings.ToUpper(strings.TrimSpace(c.CacheMaxMemory))
	if size == "" {
		return 0, fmt.Errorf("cache_max_memory must not be empty")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(size, "GB"):
		multiplier = 1024 * 1024 * 1024
		size = strings.TrimSuffix(size, "GB")
	case strings.HasSuffix(size, "MB"):
		multiplier = 1024 * 1024
		size = strings.TrimSuffix(size, "MB")
	case strings.HasSuffix(size, "KB"):
		multiplier = 1024
		size = strings.TrimSuffix(size, "KB")
	case strings.HasSuffix(size, "B"):
		size = strings.TrimSuffix(size, "B")
	}

	value, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache_max_memory: %s", c.CacheMaxMemory)
	}
	if value <= 0 {
		return 0, fmt.Errorf("cache_max_memory must be positive, got %s", c.CacheMaxMemory)
	}
	return value * multiplier, nil
}

// String gives a one-line summary for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("gofastd %s:%d cache=%s pool=[%d,%d] queue=%d",
		c.Host, c.Port, c.CacheMaxMemory, c.PoolLowWatermark, c.PoolHighWatermark, c.PoolMaxQueue)
}
