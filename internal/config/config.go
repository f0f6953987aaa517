// Package config loads the service configuration from configs/config.yml
// with MAGNET_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"controlling_magnet/internal/channel"
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/magnet"

	"github.com/spf13/viper"
)

const envPrefix = "MAGNET"

// Transport kinds.
const (
	TransportTCP      = "tcp"
	TransportPrologix = "prologix"
	TransportSim      = "sim"
)

type Config struct {
	Port      string          `mapstructure:"port"`
	DB        DBConfig        `mapstructure:"db"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Transport TransportConfig `mapstructure:"transport"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Magnet    MagnetConfig    `mapstructure:"magnet"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// TransportConfig selects how the supply is reached. Address is host:port
// for tcp and the serial device for prologix.
type TransportConfig struct {
	Kind        string        `mapstructure:"kind"`
	Address     string        `mapstructure:"address"`
	GPIBAddress int           `mapstructure:"gpib_address"`
	Terminator  string        `mapstructure:"terminator"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ChannelConfig struct {
	RetryEnabled  bool          `mapstructure:"retry_enabled"`
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
}

type MagnetConfig struct {
	CoilConstant float64          `mapstructure:"coil_constant"` // T/A
	Ranges       magnet.RateTable `mapstructure:"ranges"`
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	MaxFieldT    float64          `mapstructure:"max_field_t"`
	// RampTimeout bounds a supervised ramp; zero means no bound.
	RampTimeout time.Duration `mapstructure:"ramp_timeout"`
	// Inductance and LeadResistance only shape the simulated supply.
	Inductance     float64 `mapstructure:"inductance"`
	LeadResistance float64 `mapstructure:"lead_resistance"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db.path", "magnet.db")
	v.SetDefault("log.level", logger.InfoLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("transport.kind", TransportSim)
	v.SetDefault("transport.address", "")
	v.SetDefault("transport.gpib_address", 0)
	v.SetDefault("transport.terminator", "\n")
	v.SetDefault("transport.timeout", 3*time.Second)
	v.SetDefault("channel.retry_enabled", true)
	v.SetDefault("channel.retry_cooldown", channel.DefaultRetryCooldown)
	v.SetDefault("magnet.coil_constant", 0.0)
	v.SetDefault("magnet.poll_interval", magnet.DefaultPollInterval)
	v.SetDefault("magnet.max_field_t", magnet.DefaultMaxFieldT)
	v.SetDefault("magnet.ramp_timeout", time.Duration(0))
	v.SetDefault("magnet.inductance", 0.0)
	v.SetDefault("magnet.lead_resistance", 0.0)
	v.SetDefault("monitor.interval", time.Second)
}

// Load reads path (or configs/config.yml when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoggerOptions maps the log section onto the logger.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// ChannelPolicy is the retry policy for the command channel.
func (c *Config) ChannelPolicy() channel.Policy {
	return channel.Policy{
		RetryEnabled:  c.Channel.RetryEnabled,
		RetryCooldown: c.Channel.RetryCooldown,
	}
}

// ControllerConfig is the magnet controller configuration.
func (c *Config) ControllerConfig() magnet.Config {
	return magnet.Config{
		CoilConstant: c.Magnet.CoilConstant,
		Ranges:       c.Magnet.Ranges,
		PollInterval: c.Magnet.PollInterval,
		MaxFieldT:    c.Magnet.MaxFieldT,
	}
}
