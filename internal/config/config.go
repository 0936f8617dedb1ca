// Package config provides environment-based configuration for the agent.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultPort              = 8080
	DefaultMaxConcurrentJobs = 2
)

// Config holds everything the serve command needs.
type Config struct {
	Port              int    // HTTP listen port
	DatabaseURL       string // PostgreSQL connection URL
	APIKey            string // Gemini API key
	MaxConcurrentJobs int    // Upper bound on jobs running at once

	// Optional per-tier model overrides; empty means the built-in default.
	ModelLite     string
	ModelStandard string
	ModelAdvanced string
}

// Load reads configuration from the environment. It does not validate;
// call Validate after applying any flag overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		APIKey:            os.Getenv("GEMINI_API_KEY"),
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		ModelLite:         os.Getenv("GEMINI_MODEL_LITE"),
		ModelStandard:     os.Getenv("GEMINI_MODEL_STANDARD"),
		ModelAdvanced:     os.Getenv("GEMINI_MODEL_ADVANCED"),
	}

	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config error: invalid PORT %q: %w", raw, err)
		}
		cfg.Port = port
	}

	if raw := os.Getenv("MAX_CONCURRENT_JOBS"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config error: invalid MAX_CONCURRENT_JOBS %q: %w", raw, err)
		}
		cfg.MaxConcurrentJobs = limit
	}

	return cfg, nil
}

// Validate checks that the configuration has usable values. requireDatabase
// is false when running against the in-memory store.
func (c *Config) Validate(requireDatabase bool) error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config error: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.APIKey == "" {
		return fmt.Errorf("config error: GEMINI_API_KEY is required")
	}
	if requireDatabase && c.DatabaseURL == "" {
		return fmt.Errorf("config error: DATABASE_URL is required")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config error: MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	return nil
}
