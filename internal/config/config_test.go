package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// helper to write a tmp YAML file and return its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

// ── Load & validate round-trip ──

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
agent:
  control:
    port: 4002
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  ai:
    provider: "openai"
    model: "gpt-4o"
  log:
    level: "debug"
  healthz:
    enabled: true
    listen: "0.0.0.0:8090"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Control.Port != 4002 {
		t.Errorf("Control.Port = %d, want 4002", cfg.Control.Port)
	}
	if cfg.Control.Socket != "/tmp/test.sock" {
		t.Errorf("Control.Socket = %q", cfg.Control.Socket)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Control.PIDFile = %q", cfg.Control.PIDFile)
	}
	if cfg.AI.Provider != "openai" {
		t.Errorf("AI.Provider = %q, want openai", cfg.AI.Provider)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if !cfg.Healthz.Enabled {
		t.Error("Healthz.Enabled = false, want true")
	}
}

// ── Log validation ──

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
agent:
  log:
    level: "invalid"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("error = %v, want 'invalid log level'", err)
	}
}

func TestLoadInvalidControlPort(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
agent:
  control:
    port: 0
`))
	if err == nil {
		t.Fatal("expected error for non-positive control port")
	}
	if !strings.Contains(err.Error(), "control.port") {
		t.Errorf("error = %v, want mention of control.port", err)
	}
}

// ── Env overrides for the flat, unprefixed names named in the operational
// contract (AGENT_PORT, AI_PROVIDER, *_API_KEY, *_API_BASE) ──

func TestLoadEnvOverrideAgentPort(t *testing.T) {
	t.Setenv("AGENT_PORT", "5555")

	cfg, err := Load(writeTmpConfig(t, `
agent:
  control:
    port: 3002
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Control.Port != 5555 {
		t.Errorf("Control.Port = %d, want 5555 (from AGENT_PORT)", cfg.Control.Port)
	}
}

func TestLoadEnvOverrideAIProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	cfg, err := Load(writeTmpConfig(t, `
agent: {}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Errorf("AI.Provider = %q, want anthropic (from AI_PROVIDER)", cfg.AI.Provider)
	}
	if cfg.AI.Profiles["anthropic"].APIKey != "sk-ant-test-key" {
		t.Errorf("AI.Profiles[anthropic].APIKey = %q, want sk-ant-test-key", cfg.AI.Profiles["anthropic"].APIKey)
	}
}

// ── Defaults ──

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
agent: {}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Control.Port != 3002 {
		t.Errorf("Control.Port = %d, want 3002", cfg.Control.Port)
	}
	if cfg.StatusCache.MinIntervalMS != 100 {
		t.Errorf("StatusCache.MinIntervalMS = %d, want 100", cfg.StatusCache.MinIntervalMS)
	}
	if cfg.Marker.CooldownSeconds != 60 {
		t.Errorf("Marker.CooldownSeconds = %d, want 60", cfg.Marker.CooldownSeconds)
	}
	if cfg.Diagnosis.CooldownSeconds != 30 {
		t.Errorf("Diagnosis.CooldownSeconds = %d, want 30", cfg.Diagnosis.CooldownSeconds)
	}
	if cfg.Segmentation.MaxConcurrent != 3 {
		t.Errorf("Segmentation.MaxConcurrent = %d, want 3", cfg.Segmentation.MaxConcurrent)
	}
	if !cfg.Segmentation.FallbackEnabled {
		t.Error("Segmentation.FallbackEnabled = false, want true")
	}
	if cfg.Bridge.Enabled {
		t.Error("Bridge.Enabled = true, want false by default")
	}
	if cfg.ModelRegistry.Dir != "/var/lib/canopy-agent/models" {
		t.Errorf("ModelRegistry.Dir = %q, want /var/lib/canopy-agent/models", cfg.ModelRegistry.Dir)
	}
}

func TestLoadDerivesModelRegistryDirFromDataDir(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
agent:
  data_dir: "/srv/canopy"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ModelRegistry.Dir != "/srv/canopy/models" {
		t.Errorf("ModelRegistry.Dir = %q, want /srv/canopy/models", cfg.ModelRegistry.Dir)
	}
}
