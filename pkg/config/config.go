package config

import (
	"fmt"
	"os"
	"time"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/services"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Telemetry struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"telemetry"`

	Controller struct {
		EvaluationInterval time.Duration `yaml:"evaluation_interval"`
		Retention          time.Duration `yaml:"retention"`
	} `yaml:"controller"`

	Decision struct {
		DowngradeLossPct    float64       `yaml:"downgrade_loss_pct"`
		DowngradeJitterMs   float64       `yaml:"downgrade_jitter_ms"`
		DowngradeMinFPS     float64       `yaml:"downgrade_min_fps"`
		UpgradeLossPct      float64       `yaml:"upgrade_loss_pct"`
		UpgradeJitterMs     float64       `yaml:"upgrade_jitter_ms"`
		UpgradeMinFPS       float64       `yaml:"upgrade_min_fps"`
		DowngradeStreak     int           `yaml:"downgrade_streak"`
		UpgradeStreak       int           `yaml:"upgrade_streak"`
		Cooldown            time.Duration `yaml:"cooldown"`
		SuppressWindow      time.Duration `yaml:"suppress_window"`
		UpgradeHeadroomMbps float64       `yaml:"upgrade_headroom_mbps"`
	} `yaml:"decision"`

	Network struct {
		LowBandwidthMbps    float64 `yaml:"low_bandwidth_mbps"`
		MediumBandwidthMbps float64 `yaml:"medium_bandwidth_mbps"`
		HighBandwidthMbps   float64 `yaml:"high_bandwidth_mbps"`
		UnstableLossPct     float64 `yaml:"unstable_loss_pct"`
		UnstableJitterMs    float64 `yaml:"unstable_jitter_ms"`
		UnstableRTTMs       float64 `yaml:"unstable_rtt_ms"`
		ModerateLossPct     float64 `yaml:"moderate_loss_pct"`
		ModerateJitterMs    float64 `yaml:"moderate_jitter_ms"`
		ModerateRTTMs       float64 `yaml:"moderate_rtt_ms"`
	} `yaml:"network"`

	Tiers []domain.TierSpec `yaml:"tiers"`

	Probe struct {
		Mode    string        `yaml:"mode"` // static | http
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`

		Static struct {
			DownlinkMbps    float64 `yaml:"downlink_mbps"`
			RTTMs           float64 `yaml:"rtt_ms"`
			ConnectionClass string  `yaml:"connection_class"`
			SaveData        bool    `yaml:"save_data"`
		} `yaml:"static"`
	} `yaml:"probe"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Telemetry.PingInterval <= 0 {
		return fmt.Errorf("telemetry.ping_interval must be > 0")
	}
	if c.Telemetry.PongTimeout <= c.Telemetry.PingInterval {
		return fmt.Errorf("telemetry.pong_timeout must be > ping_interval")
	}

	if c.Controller.EvaluationInterval <= 0 {
		return fmt.Errorf("controller.evaluation_interval must be > 0")
	}
	if c.Controller.Retention <= 0 {
		return fmt.Errorf("controller.retention must be > 0")
	}

	if c.Decision.DowngradeStreak <= 0 {
		return fmt.Errorf("decision.downgrade_streak must be > 0")
	}
	if c.Decision.UpgradeStreak < c.Decision.DowngradeStreak {
		return fmt.Errorf("decision.upgrade_streak must be >= downgrade_streak")
	}
	if c.Decision.Cooldown <= 0 {
		return fmt.Errorf("decision.cooldown must be > 0")
	}
	if c.Decision.UpgradeLossPct >= c.Decision.DowngradeLossPct {
		return fmt.Errorf("decision.upgrade_loss_pct must be stricter than downgrade_loss_pct")
	}
	if c.Decision.UpgradeJitterMs >= c.Decision.DowngradeJitterMs {
		return fmt.Errorf("decision.upgrade_jitter_ms must be stricter than downgrade_jitter_ms")
	}

	if !(c.Network.LowBandwidthMbps < c.Network.MediumBandwidthMbps &&
		c.Network.MediumBandwidthMbps < c.Network.HighBandwidthMbps) {
		return fmt.Errorf("network bandwidth thresholds must be strictly increasing")
	}

	if len(c.Tiers) != 0 && len(c.Tiers) != 4 {
		return fmt.Errorf("tiers must list exactly 4 entries, highest first")
	}
	for i := 1; i < len(c.Tiers); i++ {
		if c.Tiers[i].TargetBitrateKbps >= c.Tiers[i-1].TargetBitrateKbps {
			return fmt.Errorf("tiers must be ordered by decreasing bitrate")
		}
	}

	switch c.Probe.Mode {
	case "", "static":
	case "http":
		if c.Probe.URL == "" {
			return fmt.Errorf("probe.url must not be empty when probe.mode=http")
		}
	default:
		return fmt.Errorf("probe.mode must be static or http")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Telemetry.PingInterval = 30 * time.Second
	cfg.Telemetry.PongTimeout = 60 * time.Second
	cfg.Telemetry.WriteTimeout = 10 * time.Second

	cfg.Controller.EvaluationInterval = 3 * time.Second
	cfg.Controller.Retention = 60 * time.Second

	dec := services.DefaultDecisionConfig()
	cfg.Decision.DowngradeLossPct = dec.DowngradeLossPct
	cfg.Decision.DowngradeJitterMs = dec.DowngradeJitterMs
	cfg.Decision.DowngradeMinFPS = dec.DowngradeMinFPS
	cfg.Decision.UpgradeLossPct = dec.UpgradeLossPct
	cfg.Decision.UpgradeJitterMs = dec.UpgradeJitterMs
	cfg.Decision.UpgradeMinFPS = dec.UpgradeMinFPS
	cfg.Decision.DowngradeStreak = dec.DowngradeStreak
	cfg.Decision.UpgradeStreak = dec.UpgradeStreak
	cfg.Decision.Cooldown = dec.Cooldown
	cfg.Decision.SuppressWindow = dec.SuppressWindow
	cfg.Decision.UpgradeHeadroomMbps = dec.UpgradeHeadroomMbps

	agg := services.DefaultAggregatorConfig()
	cfg.Network.LowBandwidthMbps = agg.LowBandwidthMbps
	cfg.Network.MediumBandwidthMbps = agg.MediumBandwidthMbps
	cfg.Network.HighBandwidthMbps = agg.HighBandwidthMbps
	cfg.Network.UnstableLossPct = agg.UnstableLossPct
	cfg.Network.UnstableJitterMs = agg.UnstableJitterMs
	cfg.Network.UnstableRTTMs = agg.UnstableRTTMs
	cfg.Network.ModerateLossPct = agg.ModerateLossPct
	cfg.Network.ModerateJitterMs = agg.ModerateJitterMs
	cfg.Network.ModerateRTTMs = agg.ModerateRTTMs

	cfg.Probe.Mode = "static"
	cfg.Probe.Timeout = 2 * time.Second
	cfg.Probe.Static.DownlinkMbps = 10
	cfg.Probe.Static.RTTMs = 50
	cfg.Probe.Static.ConnectionClass = "wifi"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = ""

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("GRIDTUNE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("GRIDTUNE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("GRIDTUNE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("GRIDTUNE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}

// AggregatorConfig maps the loaded values onto the aggregator's settings.
func (c *Config) AggregatorConfig() services.AggregatorConfig {
	agg := services.DefaultAggregatorConfig()
	agg.Retention = c.Controller.Retention
	agg.LowBandwidthMbps = c.Network.LowBandwidthMbps
	agg.MediumBandwidthMbps = c.Network.MediumBandwidthMbps
	agg.HighBandwidthMbps = c.Network.HighBandwidthMbps
	agg.UnstableLossPct = c.Network.UnstableLossPct
	agg.UnstableJitterMs = c.Network.UnstableJitterMs
	agg.UnstableRTTMs = c.Network.UnstableRTTMs
	agg.ModerateLossPct = c.Network.ModerateLossPct
	agg.ModerateJitterMs = c.Network.ModerateJitterMs
	agg.ModerateRTTMs = c.Network.ModerateRTTMs
	return agg
}

// DecisionConfig maps the loaded values onto the decision engine's settings.
func (c *Config) DecisionConfig() services.DecisionConfig {
	return services.DecisionConfig{
		DowngradeLossPct:    c.Decision.DowngradeLossPct,
		DowngradeJitterMs:   c.Decision.DowngradeJitterMs,
		DowngradeMinFPS:     c.Decision.DowngradeMinFPS,
		UpgradeLossPct:      c.Decision.UpgradeLossPct,
		UpgradeJitterMs:     c.Decision.UpgradeJitterMs,
		UpgradeMinFPS:       c.Decision.UpgradeMinFPS,
		DowngradeStreak:     c.Decision.DowngradeStreak,
		UpgradeStreak:       c.Decision.UpgradeStreak,
		Cooldown:            c.Decision.Cooldown,
		SuppressWindow:      c.Decision.SuppressWindow,
		UpgradeHeadroomMbps: c.Decision.UpgradeHeadroomMbps,
	}
}

// TierTable returns the configured quality ladder, or the built-in one.
func (c *Config) TierTable() domain.TierTable {
	if len(c.Tiers) != 4 {
		return domain.DefaultTierTable()
	}
	var table domain.TierTable
	copy(table[:], c.Tiers)
	return table
}
