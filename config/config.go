// Package config loads bgremover settings from an optional YAML file and
// BGREMOVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "BGREMOVER"
	configName = "bgremover"
)

type Config struct {
	// Endpoint is the background-removal service URL.
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
	// HealthURL defaults to the Endpoint origin plus /health.
	HealthURL      string        `mapstructure:"health_url" validate:"omitempty,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PreviewMaxEdge int           `mapstructure:"preview_max_edge" validate:"gte=0"`
	OutputDir      string        `mapstructure:"output_dir" validate:"required"`

	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
	// HealthSchedule is a standard cron spec; empty disables probing.
	HealthSchedule  string        `mapstructure:"health_schedule"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "http://localhost:8000/remove-background")
	v.SetDefault("health_url", "")
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("preview_max_edge", 1024)
	v.SetDefault("output_dir", ".")
	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("server.health_schedule", "@every 30s")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path when given, otherwise bgremover.yaml from the working
// directory if present. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Server.HealthSchedule != "" {
		if _, err := cron.ParseStandard(c.Server.HealthSchedule); err != nil {
			return fmt.Errorf("invalid config: server.health_schedule: %w", err)
		}
	}
	return nil
}
