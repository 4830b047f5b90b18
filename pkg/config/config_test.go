package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridtune/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"pong before ping", func(c *Config) { c.Telemetry.PongTimeout = c.Telemetry.PingInterval }},
		{"zero evaluation interval", func(c *Config) { c.Controller.EvaluationInterval = 0 }},
		{"zero downgrade streak", func(c *Config) { c.Decision.DowngradeStreak = 0 }},
		{"upgrade streak below downgrade", func(c *Config) { c.Decision.UpgradeStreak = c.Decision.DowngradeStreak - 1 }},
		{"zero cooldown", func(c *Config) { c.Decision.Cooldown = 0 }},
		{"upgrade loss not stricter", func(c *Config) { c.Decision.UpgradeLossPct = c.Decision.DowngradeLossPct }},
		{"bandwidth thresholds not increasing", func(c *Config) { c.Network.MediumBandwidthMbps = c.Network.HighBandwidthMbps }},
		{"partial tier table", func(c *Config) { c.Tiers = []domain.TierSpec{{TargetBitrateKbps: 1000}} }},
		{"unknown probe mode", func(c *Config) { c.Probe.Mode = "mdns" }},
		{"http probe without url", func(c *Config) { c.Probe.Mode = "http"; c.Probe.URL = "" }},
		{"prometheus without port", func(c *Config) { c.Monitoring.PrometheusPort = 0 }},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" }},
		{"rate limiting without rate", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.RequestsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateTierOrdering(t *testing.T) {
	cfg := DefaultConfig()
	table := domain.DefaultTierTable()
	cfg.Tiers = table[:]
	assert.NoError(t, cfg.Validate())

	// Swapping two entries breaks the decreasing-bitrate order.
	cfg.Tiers[1], cfg.Tiers[2] = cfg.Tiers[2], cfg.Tiers[1]
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Controller.EvaluationInterval)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
server:
  address: ":9999"
controller:
  evaluation_interval: 5s
decision:
  downgrade_streak: 2
  upgrade_streak: 4
probe:
  mode: http
  url: http://probe.local/reading
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Controller.EvaluationInterval)
	assert.Equal(t, 2, cfg.Decision.DowngradeStreak)
	assert.Equal(t, "http", cfg.Probe.Mode)

	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Decision.Cooldown)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRIDTUNE_SERVER_ADDRESS", ":7070")
	t.Setenv("GRIDTUNE_LOG_LEVEL", "debug")
	t.Setenv("GRIDTUNE_REDIS_ADDRESS", "redis.internal:6379")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
}

func TestConfigMappings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Controller.Retention = 90 * time.Second
	cfg.Network.HighBandwidthMbps = 20
	cfg.Decision.Cooldown = 15 * time.Second

	agg := cfg.AggregatorConfig()
	assert.Equal(t, 90*time.Second, agg.Retention)
	assert.Equal(t, 20.0, agg.HighBandwidthMbps)

	dec := cfg.DecisionConfig()
	assert.Equal(t, 15*time.Second, dec.Cooldown)
	assert.Equal(t, 5.0, dec.UpgradeHeadroomMbps)
}

func TestTierTableFallsBackWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, domain.DefaultTierTable(), cfg.TierTable())

	custom := domain.DefaultTierTable()
	custom[domain.TierHigh].TargetBitrateKbps = 4000
	cfg.Tiers = custom[:]
	assert.Equal(t, custom, cfg.TierTable())
}
