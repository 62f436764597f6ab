// Package config loads engine configuration from YAML files and
// FINSCOPE_-prefixed environment variables, with defaults for every knob.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the paper-trading engine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fees      FeeConfig       `mapstructure:"fees"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RedisConfig configures the ledger store substrate.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig configures the pending-order scheduler.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	// ClaimTTL bounds how long a claimed entry may sit in the claimed set
	// before it is handed back to the pending queue.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
	// SessionLength is the lifetime of day orders before expiry.
	SessionLength time.Duration `mapstructure:"session_length"`
}

// FeeConfig configures the fee calculator for real (non-paper) trades.
type FeeConfig struct {
	Rate    float64 `mapstructure:"rate"`
	Minimum float64 `mapstructure:"minimum"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given path (optional), then the
// environment, then defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("FINSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8084)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scheduler.interval", 2*time.Second)
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.claim_ttl", time.Minute)
	v.SetDefault("scheduler.session_length", 8*time.Hour)

	v.SetDefault("fees.rate", 0.001)
	v.SetDefault("fees.minimum", 1.0)

	v.SetDefault("log.level", "info")
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if cfg.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if cfg.Scheduler.ClaimTTL <= 0 {
		return fmt.Errorf("scheduler.claim_ttl must be positive")
	}
	if cfg.Fees.Rate < 0 || cfg.Fees.Minimum < 0 {
		return fmt.Errorf("fees must not be negative")
	}
	return nil
}
