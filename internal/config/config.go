// Package config loads service configuration from YAML with defaults for
// every field, so an empty or missing file yields a runnable service.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/quantrun/oppscan/internal/application/aggregate"
	"github.com/quantrun/oppscan/internal/application/coordinator"
	httpapi "github.com/quantrun/oppscan/internal/interfaces/http"
	"github.com/quantrun/oppscan/internal/strategy"
)

// StoreConfig selects and tunes the scan state backend.
type StoreConfig struct {
	// RedisAddr selects the redis backend when set; empty means in-memory.
	// The REDIS_ADDR environment variable overrides this.
	RedisAddr string `yaml:"redis_addr"`
}

// StrategyConfig tunes strategy invocation.
type StrategyConfig struct {
	Timeouts strategy.Timeouts        `yaml:"timeouts"`
	Breaker  strategy.BreakerSettings `yaml:"breaker"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel    string               `yaml:"log_level"`
	Server      httpapi.ServerConfig `yaml:"server"`
	Coordinator coordinator.Config   `yaml:"coordinator"`
	Aggregate   aggregate.Config     `yaml:"aggregate"`
	Strategy    StrategyConfig       `yaml:"strategy"`
	Store       StoreConfig          `yaml:"store"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		Server:      httpapi.DefaultServerConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Aggregate:   aggregate.DefaultConfig(),
		Strategy: StrategyConfig{
			Timeouts: strategy.DefaultTimeouts(),
			Breaker:  strategy.DefaultBreakerSettings(),
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path returns defaults with overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Store.RedisAddr = addr
	}
	if port := os.Getenv("OPPSCAN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("OPPSCAN_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
