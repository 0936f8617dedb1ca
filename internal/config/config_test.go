package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MAX_CONCURRENT_JOBS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxConcurrentJobs, cfg.MaxConcurrentJobs)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/agent")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("MAX_CONCURRENT_JOBS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres://localhost/agent", cfg.DatabaseURL)
	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
}

func TestLoadModelOverrides(t *testing.T) {
	t.Setenv("GEMINI_MODEL_LITE", "gemini-lite-test")
	t.Setenv("GEMINI_MODEL_ADVANCED", "gemini-pro-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini-lite-test", cfg.ModelLite)
	assert.Empty(t, cfg.ModelStandard)
	assert.Equal(t, "gemini-pro-test", cfg.ModelAdvanced)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")

	t.Setenv("PORT", "8080")
	t.Setenv("MAX_CONCURRENT_JOBS", "many")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_JOBS")
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:              8080,
		DatabaseURL:       "postgres://localhost/agent",
		APIKey:            "key",
		MaxConcurrentJobs: 2,
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base
		assert.NoError(t, cfg.Validate(true))
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := base
		cfg.APIKey = ""
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := base
		cfg.DatabaseURL = ""
		assert.Error(t, cfg.Validate(true))
		// Not required when running on the in-memory store.
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base
		cfg.Port = 0
		assert.Error(t, cfg.Validate(true))
		cfg.Port = 70000
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("bad concurrency", func(t *testing.T) {
		cfg := base
		cfg.MaxConcurrentJobs = 0
		assert.Error(t, cfg.Validate(true))
	})
}
