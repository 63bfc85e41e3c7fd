package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caravel-sh/caravel/internal/appdir"
	"github.com/caravel-sh/caravel/internal/config"
)

var (
	// Config-specific flags
	configForce bool
)

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Caravel configuration",
	Long: `Manage the Caravel settings file.

Use the subcommands to inspect or create the settings file.`,
}

// configShowCmd represents the config show subcommand
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

// configInitCmd represents the config init subcommand
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default settings file",
	Long: `Create a default settings.yaml in the Caravel data directory.

Examples:
  caravel config init           # Create settings.yaml if missing
  caravel config init --force   # Overwrite the existing file`,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite existing settings file without prompting")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", settingsPath)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render settings: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(settingsPath); err == nil && !configForce {
		fmt.Printf("⚠️  Settings file already exists: %s\n", settingsPath)
		fmt.Println("Use --force to overwrite the existing file.")
		return nil
	}

	if err := config.Save(config.Default()); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	fmt.Printf("✅ Created %s\n", settingsPath)
	return nil
}
