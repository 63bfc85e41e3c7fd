package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/caravel-sh/caravel/internal/auth"
)

var (
	// Login-specific flags
	loginPassword string
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Authenticate against the session server",
	Long: `Authenticate against the session server and store the access token.

On macOS the token is stored in the system keychain; on other platforms
it is kept in memory for the lifetime of the process only.

The password is read from the --password flag, the CARAVEL_PASSWORD
environment variable, or an interactive prompt, in that order.

Examples:
  caravel login user@example.com
  CARAVEL_PASSWORD=secret caravel login user@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prefer CARAVEL_PASSWORD or the interactive prompt)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	email := args[0]

	password := loginPassword
	if password == "" {
		password = os.Getenv("CARAVEL_PASSWORD")
	}
	if password == "" {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(string(raw))
	}
	if password == "" {
		return fmt.Errorf("no password provided")
	}

	tokens := auth.NewStore()
	client := newClient(tokens)

	ctx := cmd.Context()
	if err := client.Login(ctx, email, password); err != nil {
		return err
	}

	user, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("login succeeded but user lookup failed: %w", err)
	}

	fmt.Printf("✅ Logged in as %s\n", user.Username)
	return nil
}
