// Package config loads mictl configuration from file, environment and
// defaults.
//
// Sources in order of precedence:
//  1. CLI flags (applied by the command layer)
//  2. Environment variables (MICTL_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the static configuration of the mictl session.
type Config struct {
	// Region is the default Mi Cloud region tag.
	Region string `mapstructure:"region" validate:"omitempty,oneof=cn ru us i2 tw sg de" yaml:"region"`

	// Username pre-fills the login prompt; never stores a password.
	Username string `mapstructure:"username" yaml:"username"`

	// Output is the default output format for listings.
	Output string `mapstructure:"output" validate:"omitempty,oneof=table json yaml" yaml:"output"`

	// HTTPTimeout bounds individual cloud requests.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gte=0" yaml:"http_timeout"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultPath returns the default config file location
// (~/.config/mictl/config.yaml), or empty when no home is resolvable.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mictl", "config.yaml")
}

// Load reads configuration from path (or the default location when path is
// empty), applies MICTL_* environment overrides and validates the result.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("region", "cn")
	v.SetDefault("output", "table")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetEnvPrefix("MICTL")
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || os.IsNotExist(err)) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
