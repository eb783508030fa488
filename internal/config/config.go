package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	SourcesFile    string `mapstructure:"sources_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	ShieldAPIKey    string        `mapstructure:"shield_api_key"`
	ShieldAPIURL    string        `mapstructure:"shield_api_url"`
	ShieldTimeoutMs int64         `mapstructure:"shield_timeout_ms"`
	ShieldDebug     bool          `mapstructure:"shield_debug"`
	ShieldTimeout   time.Duration `mapstructure:"-"`

	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts"`
	RetryBaseBackoffMs int64         `mapstructure:"retry_base_backoff_ms"`
	RetryMaxBackoffMs  int64         `mapstructure:"retry_max_backoff_ms"`
	RetryBaseBackoff   time.Duration `mapstructure:"-"`
	RetryMaxBackoff    time.Duration `mapstructure:"-"`

	AutoActionEnabled bool   `mapstructure:"auto_action_enabled"`
	AutoActionMinRisk string `mapstructure:"auto_action_min_risk"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "shield-guard")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("shield_api_key", "")
	v.SetDefault("shield_api_url", "")
	v.SetDefault("shield_timeout_ms", 10000)
	v.SetDefault("shield_debug", false)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_backoff_ms", 500)
	v.SetDefault("retry_max_backoff_ms", 30000)
	v.SetDefault("auto_action_enabled", false)
	v.SetDefault("auto_action_min_risk", "high")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/reports.db")
	v.SetDefault("storage_ttl_seconds", int64((7*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize validates raw values and derives durations.
func (c *Config) finalize() error {
	c.ShieldAPIKey = strings.TrimSpace(c.ShieldAPIKey)
	if c.ShieldAPIKey == "" {
		return fmt.Errorf("shield_api_key is required")
	}

	if c.ShieldTimeoutMs <= 0 {
		return fmt.Errorf("invalid shield_timeout_ms (must be positive milliseconds)")
	}
	c.ShieldTimeout = time.Duration(c.ShieldTimeoutMs) * time.Millisecond

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid retry_max_attempts (must be at least 1)")
	}
	if c.RetryBaseBackoffMs <= 0 || c.RetryMaxBackoffMs < c.RetryBaseBackoffMs {
		return fmt.Errorf("invalid retry backoff (base must be positive and not exceed max)")
	}
	c.RetryBaseBackoff = time.Duration(c.RetryBaseBackoffMs) * time.Millisecond
	c.RetryMaxBackoff = time.Duration(c.RetryMaxBackoffMs) * time.Millisecond

	c.AutoActionMinRisk = strings.ToLower(strings.TrimSpace(c.AutoActionMinRisk))
	switch c.AutoActionMinRisk {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid auto_action_min_risk %q", c.AutoActionMinRisk)
	}

	if c.StorageTTLSeconds <= 0 {
		return fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if c.StorageCleanupSeconds <= 0 {
		return fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	c.StorageTTL = time.Duration(c.StorageTTLSeconds) * time.Second
	c.StorageCleanupInterval = time.Duration(c.StorageCleanupSeconds) * time.Second

	if c.ShieldDebug {
		c.LogLevel = "debug"
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.ShieldAPIKey != "" {
		c.ShieldAPIKey = "***"
	}
	return c
}
