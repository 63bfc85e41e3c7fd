// Package config loads and persists the Caravel settings file and watches
// it for edits made while the client is running.
package config

import (
	"fmt"
	"os"

	"github.com/caravel-sh/caravel/internal/appdir"
	"github.com/caravel-sh/caravel/internal/fileutil"
)

// DefaultServerURL is the server address used when none is configured.
const DefaultServerURL = "http://localhost:8080"

// Settings represents the persisted Caravel settings in YAML format,
// stored in the Caravel data directory as settings.yaml.
type Settings struct {
	// Server is the base URL of the session server.
	Server string `yaml:"server"`
	// APIPrefix overrides the server's API prefix. Default: /api/v1
	APIPrefix string `yaml:"api_prefix,omitempty"`
	// Workspace is the default workspace ID for session commands.
	Workspace string `yaml:"workspace,omitempty"`
	// ReconnectSeconds is the delay between stream reconnect attempts.
	// Default: 3
	ReconnectSeconds int `yaml:"reconnect_seconds,omitempty"`
	// PageSize is the number of timeline entries fetched per history page.
	// Default: 20
	PageSize int `yaml:"page_size,omitempty"`
	// Logging contains logging configuration.
	Logging LoggingSettings `yaml:"logging,omitempty"`
}

// LoggingSettings configures the client's log output.
type LoggingSettings struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`
	// File is the log file path. Empty means stderr only.
	File string `yaml:"file,omitempty"`
	// JSON enables JSON log output.
	JSON bool `yaml:"json,omitempty"`
	// MaxSizeMB is the log file size before rotation. Default: 10
	MaxSizeMB int `yaml:"max_size_mb,omitempty"`
	// MaxBackups is the number of rotated files to keep. Default: 3
	MaxBackups int `yaml:"max_backups,omitempty"`
	// Components limits logging to the named components (empty means all).
	Components []string `yaml:"components,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	return &Settings{
		Server:           DefaultServerURL,
		ReconnectSeconds: 3,
		PageSize:         20,
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// Load reads settings from the Caravel data directory. If settings.yaml
// doesn't exist, it is created from defaults. This function also ensures
// the Caravel directory exists.
func Load() (*Settings, error) {
	if err := appdir.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to create Caravel directory: %w", err)
	}

	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return nil, err
	}

	// Create settings.yaml from defaults if it doesn't exist
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		settings := Default()
		if err := Save(settings); err != nil {
			return nil, fmt.Errorf("failed to create default settings: %w", err)
		}
		return settings, nil
	}

	return LoadFile(settingsPath)
}

// LoadFile reads settings from an explicit path (the --config flag).
// Missing fields fall back to defaults.
func LoadFile(path string) (*Settings, error) {
	settings := Default()
	if err := fileutil.ReadYAML(path, settings); err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

func (s *Settings) validate() error {
	if s.Server == "" {
		return fmt.Errorf("server must not be empty")
	}
	if s.ReconnectSeconds < 0 {
		return fmt.Errorf("reconnect_seconds must not be negative")
	}
	if s.PageSize < 0 {
		return fmt.Errorf("page_size must not be negative")
	}
	return nil
}

// Save writes settings to the Caravel data directory. Before writing, it
// creates a backup of the existing settings file (if it exists) at
// settings.yaml.bak. Only one backup is maintained at a time.
func Save(settings *Settings) error {
	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return err
	}

	// Create backup if settings.yaml already exists
	if _, err := os.Stat(settingsPath); err == nil {
		backupPath := settingsPath + ".bak"
		data, err := os.ReadFile(settingsPath)
		if err != nil {
			return fmt.Errorf("failed to read settings for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, data, 0644); err != nil {
			return fmt.Errorf("failed to create settings backup: %w", err)
		}
	}

	// Use atomic write for safety
	return fileutil.WriteYAMLAtomic(settingsPath, settings, 0644)
}
