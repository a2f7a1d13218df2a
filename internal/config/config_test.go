package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("API_BASE_URL", "https://cms.example.com/api")
	t.Setenv("API_USERNAME", "sync@example.com")
	t.Setenv("API_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, 2, cfg.API.InitialImageBudget)
	assert.Equal(t, 2, cfg.Uploader.BatchSize)
	assert.Equal(t, 3, cfg.Uploader.MaxAttempts)
	assert.Equal(t, 3, cfg.Deferred.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Uploader.RateLimitCooldown)
	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Database.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_INITIAL_IMAGE_BUDGET", "4")
	t.Setenv("UPLOADER_BATCH_SIZE", "5")
	t.Setenv("UPLOADER_RETRY_BASE", "500ms")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("API_USER_AGENTS", "ua-1,ua-2")

	cfg := validConfig(t)

	assert.Equal(t, 4, cfg.API.InitialImageBudget)
	assert.Equal(t, 5, cfg.Uploader.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Uploader.RetryBase)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"ua-1", "ua-2"}, cfg.API.UserAgents)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, "API_BASE_URL"},
		{"missing credentials", func(c *Config) { c.API.Password = "" }, "API_PASSWORD"},
		{"zero batch size", func(c *Config) { c.Uploader.BatchSize = 0 }, "UPLOADER_BATCH_SIZE"},
		{"zero attempts", func(c *Config) { c.Uploader.MaxAttempts = 0 }, "UPLOADER_MAX_ATTEMPTS"},
		{"zero image budget", func(c *Config) { c.API.InitialImageBudget = 0 }, "API_INITIAL_IMAGE_BUDGET"},
		{"inverted scraper delays", func(c *Config) {
			c.Scraper.DelayMin = 10 * time.Second
			c.Scraper.DelayMax = time.Second
		}, "SCRAPER_DELAY_MIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
