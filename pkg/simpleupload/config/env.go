package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Only variables that are set
// replace the current values, so options applied later still win.
//
// Variables are named by the env tags of ServerConfig; nested sections add
// their prefix, e.g. UPLOAD_TEMP_DIR, STORAGE_TYPE, STORAGE_BREAKER_ENABLED,
// SWEEP_TTL. EnvUsage lists them all.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, JSON, TOML or .env file and then applies environment
// overrides on top of it. Attribute definitions can only be given this way.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		return nil
	}
}

// EnvUsage describes every environment variable understood by WithEnv.
func EnvUsage() (string, error) {
	cfg := defaults()
	header := "Environment variables:"
	return cleanenv.GetDescription(&cfg, &header)
}
