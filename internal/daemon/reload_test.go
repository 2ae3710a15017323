package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseReloadConfig(tmpDir, logLevel string, markerCooldown int) string {
	return `
agent:
  control:
    port: 19097
    socket: ` + filepath.Join(tmpDir, "canopy-agent.sock") + `
    pid_file: ` + filepath.Join(tmpDir, "canopy-agent.pid") + `
  driver:
    type: sim
  segmentation:
    enabled: false
  bridge:
    enabled: false
  healthz:
    enabled: false
  marker:
    cooldown_seconds: ` + itoa(markerCooldown) + `
  data_dir: ` + tmpDir + `
  log:
    level: ` + logLevel + `
`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(baseReloadConfig(tmpDir, "info", 60)), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "canopy-agent.sock")
	pidFile := filepath.Join(tmpDir, "canopy-agent.pid")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	if err := os.WriteFile(configPath, []byte(baseReloadConfig(tmpDir, "debug", 60)), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemon_ReloadAppliesMarkerCooldown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(baseReloadConfig(tmpDir, "info", 60)), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "canopy-agent.sock")
	pidFile := filepath.Join(tmpDir, "canopy-agent.pid")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	cooldown, _ := d.markerDet.CooldownStatus()
	if cooldown != 60*time.Second {
		t.Fatalf("expected initial cooldown 60s, got %v", cooldown)
	}

	if err := os.WriteFile(configPath, []byte(baseReloadConfig(tmpDir, "info", 120)), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	cooldown, _ = d.markerDet.CooldownStatus()
	if cooldown != 120*time.Second {
		t.Fatalf("expected cooldown 120s after reload, got %v", cooldown)
	}
}

func TestDaemon_ReloadWithoutRunningMissionSucceeds(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(baseReloadConfig(tmpDir, "info", 60)), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "canopy-agent.sock")
	pidFile := filepath.Join(tmpDir, "canopy-agent.pid")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.missionCtl.IsRunning() {
		t.Fatalf("expected no mission running initially")
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.missionCtl.IsRunning() {
		t.Fatalf("reload must not start a mission")
	}
}
