// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the user-tunable values read from config.yaml.
type Settings struct {
	ServerURL          string `yaml:"server_url"`
	AuthToken          string `yaml:"auth_token"`
	ListenAddr         string `yaml:"listen_addr"`
	AutoSnapshot       bool   `yaml:"auto_snapshot"`
	SnapshotDebounceMS int    `yaml:"snapshot_debounce_ms"`
	ReconnectDelayMS   int    `yaml:"reconnect_delay_ms"`
	HeartbeatSeconds   int    `yaml:"heartbeat_seconds"`
}

// Config holds resolved application paths plus settings.
type Config struct {
	HomeDir      string
	RelaycodeDir string
	DatabasePath string
	ArchiveDir   string
	LogDir       string
	Settings     Settings
}

// defaultSettings returns the settings used when config.yaml is absent
// or leaves a field unset.
func defaultSettings() Settings {
	return Settings{
		ListenAddr:         "127.0.0.1:7831",
		AutoSnapshot:       true,
		SnapshotDebounceMS: 1500,
		ReconnectDelayMS:   2000,
		HeartbeatSeconds:   30,
	}
}

// Load creates a Config instance with resolved paths, reading
// ~/.relaycode/config.yaml when present.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	relaycodeDir := filepath.Join(home, ".relaycode")
	archiveDir := filepath.Join(relaycodeDir, "archives")
	logDir := filepath.Join(relaycodeDir, "logs")

	// Ensure directories exist
	for _, dir := range []string{relaycodeDir, archiveDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		HomeDir:      home,
		RelaycodeDir: relaycodeDir,
		DatabasePath: filepath.Join(relaycodeDir, "relaycode.db"),
		ArchiveDir:   archiveDir,
		LogDir:       logDir,
		Settings:     defaultSettings(),
	}

	if err := cfg.readSettings(filepath.Join(relaycodeDir, "config.yaml")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// readSettings overlays config.yaml onto the defaults. A missing file
// is fine; a malformed one is not.
func (c *Config) readSettings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	settings := defaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if settings.ListenAddr == "" {
		settings.ListenAddr = c.Settings.ListenAddr
	}
	if settings.SnapshotDebounceMS <= 0 {
		settings.SnapshotDebounceMS = c.Settings.SnapshotDebounceMS
	}
	if settings.ReconnectDelayMS <= 0 {
		settings.ReconnectDelayMS = c.Settings.ReconnectDelayMS
	}
	if settings.HeartbeatSeconds <= 0 {
		settings.HeartbeatSeconds = c.Settings.HeartbeatSeconds
	}

	c.Settings = settings
	return nil
}
