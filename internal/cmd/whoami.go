package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/auth"
)

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the currently authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens := auth.NewStore()
		if !tokens.HasToken() {
			return fmt.Errorf("not logged in: run 'caravel login' first")
		}

		client := newClient(tokens)
		user, err := client.Me(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
