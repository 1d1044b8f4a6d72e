// Package config provides TOML configuration loading for pvanet.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// ServerConfig holds settings for the pvAccess UDP server core.
type ServerConfig struct {
	BindAddress         string   `toml:"bind_address"`
	Port                int      `toml:"port"`
	BeaconAddresses     []string `toml:"beacon_addresses"`
	IgnoreAddresses     []string `toml:"ignore_addresses"`
	BeaconPeriod        string   `toml:"beacon_period"`
	MulticastInterface  string   `toml:"multicast_interface"`
	MulticastTTL        int      `toml:"multicast_ttl"`
	DisableServerStatus bool     `toml:"disable_server_status"`
	MetricsAddress      string   `toml:"metrics_address"`
	LogLevel            string   `toml:"log_level"`
}

// ParseBeaconPeriod parses the beacon period string to a time.Duration.
func (s *ServerConfig) ParseBeaconPeriod() (time.Duration, error) {
	if s.BeaconPeriod == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(s.BeaconPeriod)
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5076
	}
	if len(cfg.Server.BeaconAddresses) == 0 {
		cfg.Server.BeaconAddresses = []string{fmt.Sprintf("255.255.255.255:%d", cfg.Server.Port)}
	}
	if cfg.Server.BeaconPeriod == "" {
		cfg.Server.BeaconPeriod = "15s"
	}
	if cfg.Server.MulticastTTL == 0 {
		cfg.Server.MulticastTTL = 1
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
}
