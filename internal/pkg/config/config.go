// Package config reads filterkit settings from viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/endorses/filterkit/internal/pkg/logger"
)

// EnvPrefix prefixes environment overrides: FILTERKIT_DISPATCH_CACHE_SIZE.
const EnvPrefix = "FILTERKIT"

// Config holds every runtime setting.
type Config struct {
	Filters    FiltersConfig
	Dispatch   DispatchConfig
	Management ManagementConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Log        LogConfig
}

type FiltersConfig struct {
	Dir          string
	Manifest     string
	Watch        bool
	PollInterval time.Duration
}

type DispatchConfig struct {
	CacheEnabled bool
	CacheSize    int
}

type ManagementConfig struct {
	Addr string
}

type MetricsConfig struct {
	Enabled bool
}

type TracingConfig struct {
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level   string
	Console int
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("filters.dir", "./filters")
	v.SetDefault("filters.manifest", "filters.yaml")
	v.SetDefault("filters.watch", false)
	v.SetDefault("filters.poll_interval", 30*time.Second)
	v.SetDefault("dispatch.cache.enabled", true)
	v.SetDefault("dispatch.cache.size", 4096)
	v.SetDefault("management.addr", "127.0.0.1:9464")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", 0)
}

// BindEnv enables FILTERKIT_ environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Filters: FiltersConfig{
			Dir:          v.GetString("filters.dir"),
			Manifest:     v.GetString("filters.manifest"),
			Watch:        v.GetBool("filters.watch"),
			PollInterval: v.GetDuration("filters.poll_interval"),
		},
		Dispatch: DispatchConfig{
			CacheEnabled: v.GetBool("dispatch.cache.enabled"),
			CacheSize:    v.GetInt("dispatch.cache.size"),
		},
		Management: ManagementConfig{
			Addr: v.GetString("management.addr"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
		Tracing: TracingConfig{
			Endpoint: v.GetString("tracing.endpoint"),
			Insecure: v.GetBool("tracing.insecure"),
		},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			Console: v.GetInt("log.console"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Filters.Dir == "" {
		return fmt.Errorf("filters.dir must not be empty")
	}
	if c.Filters.PollInterval <= 0 {
		return fmt.Errorf("filters.poll_interval must be positive, got %s", c.Filters.PollInterval)
	}
	if c.Dispatch.CacheSize <= 0 {
		return fmt.Errorf("dispatch.cache.size must be positive, got %d", c.Dispatch.CacheSize)
	}
	if _, _, err := net.SplitHostPort(c.Management.Addr); err != nil {
		return fmt.Errorf("management.addr %q: %w", c.Management.Addr, err)
	}
	if c.Log.Console < 0 {
		return fmt.Errorf("log.console must not be negative, got %d", c.Log.Console)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
