// Package config loads runtime settings from YAML and the environment.
//
// Values are resolved in order: defaults, then the YAML file, then ENTSIM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/entsim/internal/core/observability/log"
)

const EnvPrefix = "ENTSIM_"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Entities EntitiesConfig `yaml:"entities" envPrefix:"ENTITIES_"`
	Engine   EngineConfig   `yaml:"engine" envPrefix:"ENGINE_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type EntitiesConfig struct {
	// Limit caps the root container, 0 means unlimited.
	Limit int `yaml:"limit" env:"LIMIT"`
}

type EngineConfig struct {
	// TickInterval of 0 makes the engine manual.
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// Workers of 0 uses GOMAXPROCS.
	Workers int `yaml:"workers" env:"WORKERS"`
}

// MarshalYAML writes the interval as a duration string, the only form Load
// accepts.
func (c EngineConfig) MarshalYAML() (any, error) {
	return struct {
		TickInterval string `yaml:"tick_interval"`
		Workers      int    `yaml:"workers"`
	}{c.TickInterval.String(), c.Workers}, nil
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Addr      string `yaml:"addr" env:"ADDR"`
}

func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Engine: EngineConfig{TickInterval: 50 * time.Millisecond},
		Metrics: MetricsConfig{
			Namespace: "entsim",
			Addr:      ":9090",
		},
	}
}

// Load decodes YAML on top of the defaults. Unknown keys are rejected. The
// result is not validated, so environment overrides can still fix it.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// ApplyEnv overrides fields from ENTSIM_* environment variables, e.g.
// ENTSIM_ENGINE_TICK_INTERVAL=20ms.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Entities.Limit < 0 {
		errs = append(errs, fmt.Errorf("entities.limit must not be negative, got %d", c.Entities.Limit))
	}
	if c.Engine.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.tick_interval must not be negative, got %s", c.Engine.TickInterval))
	}
	if c.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the parsed log level, info when unset or invalid.
func (c *Config) LogLevel() log.Level {
	level, _ := log.ParseLevel(c.Log.Level)
	return level
}
