// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// GlobalConfig represents the top-level static configuration for the agent
// process. Maps to the `agent:` root key in YAML.
type GlobalConfig struct {
	Control       ControlConfig       `mapstructure:"control"`
	AI            AIConfig            `mapstructure:"ai"`
	ModelRegistry ModelRegistryConfig `mapstructure:"model_registry"`
	StatusCache   StatusCacheConfig   `mapstructure:"status_cache"`
	Marker        MarkerConfig        `mapstructure:"marker"`
	Diagnosis     DiagnosisConfig     `mapstructure:"diagnosis"`
	Segmentation  SegmentationConfig  `mapstructure:"segmentation"`
	Driver        DriverConfig        `mapstructure:"driver"`
	Bridge        BridgeConfig        `mapstructure:"bridge"`
	Healthz       HealthzConfig       `mapstructure:"healthz"`
	Log           log.Config          `mapstructure:"log"`
	DataDir       string              `mapstructure:"data_dir"`
}

// ControlConfig configures the control plane (C9) and the local control
// socket used by the `start`/`stop`/`status`/`reload` CLI subcommands.
type ControlConfig struct {
	Port    int    `mapstructure:"port"` // websocket bind port; AGENT_PORT overrides
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// AIConfig holds bootstrap defaults for the VLM provider adapter (C5). A
// runtime `set_ai_config` command overrides these without touching disk.
type AIConfig struct {
	Provider string                  `mapstructure:"provider"`
	APIKey   string                  `mapstructure:"api_key"`
	APIBase  string                  `mapstructure:"api_base"`
	Model    string                  `mapstructure:"model"`
	Timeout  string                  `mapstructure:"timeout"`
	Profiles map[string]ProviderAuth `mapstructure:"profiles"`
}

// ProviderAuth is one named provider's bootstrap credentials, keyed by
// provider name in AIConfig.Profiles (e.g. "openai", "anthropic", "google").
type ProviderAuth struct {
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
	Model   string `mapstructure:"model"`
}

// ModelRegistryConfig configures the on-disk model metadata sidecar.
type ModelRegistryConfig struct {
	Dir string `mapstructure:"dir"` // holds models_metadata.json and model files
}

// StatusCacheConfig configures C1's thresholds and broadcast rate limiting.
type StatusCacheConfig struct {
	BatteryThreshold     float64 `mapstructure:"battery_threshold"`
	TemperatureThreshold float64 `mapstructure:"temperature_threshold"`
	HeightThreshold      float64 `mapstructure:"height_threshold"`
	PositionThreshold    float64 `mapstructure:"position_threshold"`
	MinIntervalMS        int     `mapstructure:"min_interval_ms"`
	HistoryLimit         int     `mapstructure:"history_limit"`
	TTLSeconds           int     `mapstructure:"ttl_seconds"`
}

// MarkerConfig configures C2's per-ID cooldown.
type MarkerConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// DiagnosisConfig configures C6's cooldown and history.
type DiagnosisConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	HistoryLimit    int `mapstructure:"history_limit"`
}

// SegmentationConfig configures C4's remote client, concurrency cap and
// local HSV fallback.
type SegmentationConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BaseURL         string `mapstructure:"base_url"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	RetryMax        int    `mapstructure:"retry_max"`
	RequestTimeout  string `mapstructure:"request_timeout"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
}

// DriverConfig configures the drone driver connection.
type DriverConfig struct {
	Type           string `mapstructure:"type"` // e.g. "udp"
	Address        string `mapstructure:"address"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

// BridgeConfig configures the optional upstream relay, disabled by default.
type BridgeConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	UpstreamURL string   `mapstructure:"upstream_url"`
	Events      []string `mapstructure:"events"`
}

// HealthzConfig configures the local /healthz and /statusz HTTP surface.
type HealthzConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// configRoot is the top-level wrapper matching the YAML structure `agent: ...`.
type configRoot struct {
	Agent GlobalConfig `mapstructure:"agent"`
}

// Load loads configuration from file, applies environment overrides and
// fills in defaults and derived values.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnvAliases(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Agent

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnvAliases wires the flat, unprefixed environment variable names
// named explicitly in the operational contract (AGENT_PORT, AI_PROVIDER,
// *_API_KEY, *_API_BASE) onto their structured config keys, alongside the
// AutomaticEnv-derived AGENT_CONTROL_PORT-style names.
func bindLegacyEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("agent.control.port", "AGENT_PORT")
	_ = v.BindEnv("agent.ai.provider", "AI_PROVIDER")
	_ = v.BindEnv("agent.ai.api_key", "AI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.ai.api_base", "AI_API_BASE", "OPENAI_API_BASE")
	_ = v.BindEnv("agent.ai.profiles.openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.ai.profiles.openai.api_base", "OPENAI_API_BASE")
	_ = v.BindEnv("agent.ai.profiles.anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("agent.ai.profiles.anthropic.api_base", "ANTHROPIC_API_BASE")
	_ = v.BindEnv("agent.ai.profiles.google.api_key", "GOOGLE_API_KEY")
	_ = v.BindEnv("agent.ai.profiles.google.api_base", "GOOGLE_API_BASE")
}

// setDefaults sets default values for configuration, all under the "agent."
// root key to match the YAML wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.control.port", 3002)
	v.SetDefault("agent.control.socket", "/var/run/canopy-agent.sock")
	v.SetDefault("agent.control.pid_file", "/var/run/canopy-agent.pid")

	v.SetDefault("agent.ai.timeout", "30s")

	v.SetDefault("agent.status_cache.battery_threshold", 1.0)
	v.SetDefault("agent.status_cache.temperature_threshold", 1.0)
	v.SetDefault("agent.status_cache.height_threshold", 5.0)
	v.SetDefault("agent.status_cache.position_threshold", 2.0)
	v.SetDefault("agent.status_cache.min_interval_ms", 100)
	v.SetDefault("agent.status_cache.history_limit", 100)
	v.SetDefault("agent.status_cache.ttl_seconds", 60)

	v.SetDefault("agent.marker.cooldown_seconds", 60)

	v.SetDefault("agent.diagnosis.cooldown_seconds", 30)
	v.SetDefault("agent.diagnosis.history_limit", 100)

	v.SetDefault("agent.segmentation.enabled", true)
	v.SetDefault("agent.segmentation.max_concurrent", 3)
	v.SetDefault("agent.segmentation.retry_max", 3)
	v.SetDefault("agent.segmentation.request_timeout", "10s")
	v.SetDefault("agent.segmentation.fallback_enabled", true)

	v.SetDefault("agent.driver.type", "udp")
	v.SetDefault("agent.driver.connect_timeout", "5s")

	v.SetDefault("agent.bridge.enabled", false)

	v.SetDefault("agent.healthz.enabled", true)
	v.SetDefault("agent.healthz.listen", ":8085")

	v.SetDefault("agent.data_dir", "/var/lib/canopy-agent")

	v.SetDefault("agent.log.level", "info")
	v.SetDefault("agent.log.pattern", "%time [%level] %field %msg")
	v.SetDefault("agent.log.time", "2006-01-02T15:04:05.000Z07:00")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// derivations (e.g. resolving the model registry directory from data_dir).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if cfg.Log.Level != "" && !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	if cfg.Control.Port <= 0 {
		return fmt.Errorf("agent.control.port must be positive, got %d", cfg.Control.Port)
	}

	if cfg.Segmentation.MaxConcurrent <= 0 {
		cfg.Segmentation.MaxConcurrent = 3
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/canopy-agent"
	}
	if cfg.ModelRegistry.Dir == "" {
		cfg.ModelRegistry.Dir = cfg.DataDir + "/models"
	}

	return nil
}

// Hostname returns the local hostname, used for log fields and diagnostics.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
