// Package cmd provides the CLI commands for Caravel.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/appdir"
	"github.com/caravel-sh/caravel/internal/config"
	"github.com/caravel-sh/caravel/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string
	workspaceID   string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	settings *config.Settings
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "caravel",
	Short: "Caravel - A CLI client for live agent session streams",
	Long: `Caravel is a command-line client for session servers that host
collaborative agent sessions.

It follows a session's event stream over a reconnecting websocket,
reconciles the timeline with paged history loads, and lets you send
messages and prompt responses into the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Ensure Caravel directory exists
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Caravel directory: %w", err)
		}

		// Load configuration: --config flag takes priority over settings.yaml
		var err error
		if configPath != "" {
			settings, err = config.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			settings, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}

		// Flag overrides
		if serverURL != "" {
			settings.Server = serverURL
		}
		if workspaceID != "" {
			settings.Workspace = workspaceID
		}

		// Initialize logging
		// Priority: --log-level flag > --debug flag > settings > default (info)
		effectiveLogLevel := settings.Logging.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		} else {
			components = settings.Logging.Components
		}
		effectiveLogFile := settings.Logging.File
		if logFile != "" {
			effectiveLogFile = logFile
		}
		var fileLog *logging.FileLogConfig
		if effectiveLogFile != "" {
			fileLog = &logging.FileLogConfig{
				Path:       effectiveLogFile,
				MaxSizeMB:  settings.Logging.MaxSizeMB,
				MaxBackups: settings.Logging.MaxBackups,
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			FileLog:    fileLog,
			JSON:       settings.Logging.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Session server URL (overrides configuration)")
	rootCmd.PersistentFlags().StringVarP(&workspaceID, "workspace", "w", "", "Workspace ID (overrides configuration)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'stream,timeline,api'). Empty means all components.")
}

// requireWorkspace returns the effective workspace ID or an error when none
// is configured.
func requireWorkspace() (string, error) {
	if settings == nil {
		return "", fmt.Errorf("configuration not loaded")
	}
	if settings.Workspace == "" {
		return "", fmt.Errorf("no workspace configured: use --workspace or set 'workspace' in settings.yaml")
	}
	return settings.Workspace, nil
}
