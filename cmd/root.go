package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the vaultmind application
var rootCmd = &cobra.Command{
	Use:   "vaultmind",
	Short: "Secure AI agent API with Auth0 JWT validation",
	Long: `vaultmind is the backend for the VaultMind demo application. It serves
an AI chat agent that manages Google Calendar on behalf of authenticated
users.

Every request is verified against Auth0-issued tokens, calendar access
uses the user's delegated Google OAuth token, and all agent actions are
recorded in a per-user audit trail.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "vaultmind version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
