// Package appdir provides platform-native directory management for Caravel.
// It handles locating and creating the Caravel data directory, which stores
// configuration (settings.yaml) and rotated log files (logs/ subdirectory).
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// CaravelDirEnv is the environment variable to override the Caravel directory.
	CaravelDirEnv = "CARAVEL_DIR"

	// SettingsFileName is the name of the settings file.
	SettingsFileName = "settings.yaml"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"
)

var (
	// cachedDir stores the resolved Caravel directory to avoid repeated lookups.
	cachedDir string
	// mu protects cachedDir.
	mu sync.RWMutex
)

// Dir returns the Caravel data directory path.
// The directory is determined in the following order:
//  1. CARAVEL_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Caravel
//     - Linux: $XDG_DATA_HOME/caravel or ~/.local/share/caravel
//     - Windows: %APPDATA%\Caravel
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the Caravel directory path.
func resolveDir() (string, error) {
	// Check environment variable first
	if envDir := os.Getenv(CaravelDirEnv); envDir != "" {
		return envDir, nil
	}

	// Use platform-specific directory
	switch runtime.GOOS {
	case "darwin":
		// macOS: ~/Library/Application Support/Caravel
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Caravel"), nil

	case "windows":
		// Windows: %APPDATA%\Caravel
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Caravel"), nil

	default:
		// Linux and other Unix-like systems: $XDG_DATA_HOME/caravel or ~/.local/share/caravel
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "caravel"), nil
	}
}

// EnsureDir creates the Caravel data directory if it doesn't exist.
// It also creates the logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	// Create main directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create Caravel directory %s: %w", dir, err)
	}

	// Create logs subdirectory
	logsDir := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %w", logsDir, err)
	}

	return nil
}

// SettingsPath returns the full path to the settings.yaml file.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// LogsDir returns the full path to the logs directory.
func LogsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// DefaultLogPath returns the default path for the rotating log file.
func DefaultLogPath() (string, error) {
	logsDir, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logsDir, "caravel.log"), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
