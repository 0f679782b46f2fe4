package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
feed:
  primary_source: quotex
  sources:
    - name: quotex
      enabled: true
      ws_url: "wss://example.test/ws"
`

func TestLoad(t *testing.T) {
	t.Run("defaults fill unset keys", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 300, cfg.Auth.CacheTTLSeconds)
		assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
		assert.Equal(t, 5000, cfg.RateLimit.MaxRequests)
		assert.Equal(t, 100, cfg.Signal.CandleCount)
		assert.Equal(t, 60, cfg.Signal.BucketSeconds)
		assert.Equal(t, ":8000", cfg.App.HTTPAddr)
		assert.Equal(t, "1m", cfg.Heartbeat.Interval)
		assert.Equal(t, time.Minute, cfg.Heartbeat.IntervalDuration())
	})

	t.Run("explicit values win over defaults", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
auth:
  cache_ttl_seconds: 120
rate_limit:
  max_requests: 10
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 120, cfg.Auth.CacheTTLSeconds)
		assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
		assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	})

	t.Run("include merges in order", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "base.yaml", minimalConfig+`
app:
  log_level: debug
`)
		path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  env: prod
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "prod", cfg.App.Env)
		assert.Equal(t, "debug", cfg.App.LogLevel)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("QUANTX_DB_PATH", "/tmp/override.db")
		t.Setenv("ALPHAVANTAGE_API_KEY", "secret-key")
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
    - name: alphavantage
      enabled: true
      rest_base_url: "https://www.alphavantage.co"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
		src, ok := cfg.Feed.ResolveSource("alphavantage")
		require.True(t, ok)
		assert.Equal(t, "secret-key", src.APIKey)
	})

	t.Run("rejects missing primary source", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", `
feed:
  primary_source: quotex
  sources:
    - name: binance
      enabled: true
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects out-of-range candle count", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
signal:
  candle_count: 2
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("heartbeat interval parsed", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
heartbeat:
  interval: 15m
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, cfg.Heartbeat.IntervalDuration())
	})

	t.Run("rejects malformed heartbeat interval", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
heartbeat:
  interval: 90s
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestIsOwnerCategory(t *testing.T) {
	auth := AuthConfig{OwnerCategories: []string{"OWNER", " vip "}}
	assert.True(t, auth.IsOwnerCategory("owner"))
	assert.True(t, auth.IsOwnerCategory("VIP"))
	assert.False(t, auth.IsOwnerCategory("PRO"))
	assert.False(t, auth.IsOwnerCategory(""))
}

func TestEnabledSourceNames(t *testing.T) {
	feed := FeedConfig{Sources: []FeedSourceConfig{
		{Name: "Quotex", Enabled: true},
		{Name: "forexws", Enabled: false},
		{Name: "binance", Enabled: true},
	}}
	assert.Equal(t, []string{"quotex", "binance"}, feed.EnabledSourceNames())
}
