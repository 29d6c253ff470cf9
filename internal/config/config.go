// Package config resolves the runtime configuration for the gateway,
// merging file defaults with environment overrides so both local and
// deployed runs work without flags.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// PublicBaseURL is the externally visible base URL of the gateway,
	// used as the resource prefix in payment requirements
	// (e.g. "https://gate.example.com"). Empty means derive from the
	// incoming request.
	PublicBaseURL string `yaml:"public_base_url"`

	// FacilitatorURL is the base URL of the x402 facilitator service.
	FacilitatorURL string `yaml:"facilitator_url"`

	// Network is the settlement network requirements are issued for.
	Network string `yaml:"network"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store.
	DatabaseURL string `yaml:"database_url"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:     ":3000",
		FacilitatorURL: "https://x402.org/facilitator",
		Network:        "base-sepolia",
		LogLevel:       "info",
	}
}

// Load resolves configuration from an optional YAML file path and the
// environment. Environment variables win over file values.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("XGATE_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("XGATE_FACILITATOR_URL"); v != "" {
		cfg.FacilitatorURL = v
	}
	if v := os.Getenv("XGATE_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("XGATE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("XGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.FacilitatorURL == "" {
		return fmt.Errorf("facilitator_url is required")
	}
	if strings.HasSuffix(c.FacilitatorURL, "/") {
		c.FacilitatorURL = strings.TrimRight(c.FacilitatorURL, "/")
	}
	if c.PublicBaseURL != "" {
		c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	}
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	return nil
}
