package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Scraper.Concurrency)
	require.Equal(t, 20, cfg.Scraper.MaxURLsPerRun)
	require.Equal(t, "shelfwatch-bot/0.1", cfg.Scraper.UserAgent)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 2000, cfg.Retry.BaseDelayMs)
	require.InDelta(t, 1.0, cfg.RateLimit.Default.RPS, 1e-9)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.False(t, cfg.Headless.Enabled)
	require.True(t, cfg.Logging.Development)
	require.Empty(t, cfg.DB.DSN, "no database by default")
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
scraper:
  concurrency: 8
  max_urls_per_run: 50
retry:
  parse_transient_for: [wildberries, lavka]
rate_limit:
  default:
    rps: 0.5
    burst: 2
  retailers:
    ozon:
      rps: 2
      burst: 4
storage:
  backend: local
  local_dir: /tmp/shelfwatch
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Scraper.Concurrency)
	require.Equal(t, 50, cfg.Scraper.MaxURLsPerRun)
	require.Equal(t, []string{"wildberries", "lavka"}, cfg.Retry.ParseTransientFor)
	require.InDelta(t, 0.5, cfg.RateLimit.Default.RPS, 1e-9)
	require.Equal(t, 2, cfg.RateLimit.Default.Burst)
	require.InDelta(t, 2.0, cfg.RateLimit.Retailers["ozon"].RPS, 1e-9)
	require.Equal(t, "local", cfg.Storage.Backend)

	// File values merge over defaults rather than replacing them.
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 256, cfg.Scraper.QueueDepth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }, "scraper.concurrency"},
		{"zero url cap", func(c *Config) { c.Scraper.MaxURLsPerRun = 0 }, "max_urls_per_run"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"zero rps", func(c *Config) { c.RateLimit.Default.RPS = 0 }, "rate_limit.default.rps"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "gcs_bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "local_dir"},
		{
			"headless without parallelism",
			func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
			"headless.max_parallel",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SHELFWATCH_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "1m0s", cfg.FetchTimeout().String())
	require.Equal(t, "30s", cfg.AcquireTimeout().String())
}
