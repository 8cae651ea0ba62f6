// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Settings.ListenAddr != "127.0.0.1:7831" {
		t.Errorf("Expected default listen addr, got %q", cfg.Settings.ListenAddr)
	}
	if !cfg.Settings.AutoSnapshot {
		t.Error("Expected auto snapshot on by default")
	}
	if cfg.Settings.SnapshotDebounceMS != 1500 {
		t.Errorf("Expected default debounce 1500, got %d", cfg.Settings.SnapshotDebounceMS)
	}

	for _, dir := range []string{cfg.RelaycodeDir, cfg.ArchiveDir, cfg.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s created", dir)
		}
	}
	if cfg.DatabasePath != filepath.Join(cfg.RelaycodeDir, "relaycode.db") {
		t.Errorf("Unexpected database path %q", cfg.DatabasePath)
	}
}

func TestLoadOverlay(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	relaycodeDir := filepath.Join(home, ".relaycode")
	if err := os.MkdirAll(relaycodeDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := `
server_url: https://relay.example.com
auth_token: secret
heartbeat_seconds: 10
auto_snapshot: false
`
	if err := os.WriteFile(filepath.Join(relaycodeDir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Settings.ServerURL != "https://relay.example.com" {
		t.Errorf("Expected server URL from file, got %q", cfg.Settings.ServerURL)
	}
	if cfg.Settings.AuthToken != "secret" {
		t.Errorf("Expected auth token from file, got %q", cfg.Settings.AuthToken)
	}
	if cfg.Settings.HeartbeatSeconds != 10 {
		t.Errorf("Expected heartbeat 10, got %d", cfg.Settings.HeartbeatSeconds)
	}
	if cfg.Settings.AutoSnapshot {
		t.Error("Expected auto snapshot disabled by file")
	}
	// Unset fields keep their defaults.
	if cfg.Settings.ListenAddr != "127.0.0.1:7831" {
		t.Errorf("Expected default listen addr preserved, got %q", cfg.Settings.ListenAddr)
	}
	if cfg.Settings.ReconnectDelayMS != 2000 {
		t.Errorf("Expected default reconnect delay preserved, got %d", cfg.Settings.ReconnectDelayMS)
	}
}

func TestLoadMalformedConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	relaycodeDir := filepath.Join(home, ".relaycode")
	if err := os.MkdirAll(relaycodeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(relaycodeDir, "config.yaml"), []byte("{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("Expected malformed config to fail loading")
	}
}
