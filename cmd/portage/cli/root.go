// Package cli implements the portage command-line interface using Cobra.
// It provides the interactive shell, one-shot load and sync commands, and
// the built-in integrations backend.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/config"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/ui"
)

var (
	verbose    bool
	jsonOut    bool
	configPath string
	userFlag   string
	orgFlag    string
	backendURL string

	// cfg is loaded before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "portage",
	Short: "Portage - move records between data platforms",
	Long: `Portage connects to data platforms (HubSpot, Notion, Airtable) through an
integrations backend, loads their records and transfers them from one
platform to another.

Run "portage shell" for an interactive session, or use the one-shot
load and sync commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if userFlag != "" {
			loaded.Identity.User = userFlag
		}
		if orgFlag != "" {
			loaded.Identity.Org = orgFlag
		}
		if backendURL != "" {
			loaded.Backend.URL = backendURL
		}
		cfg = loaded

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Interactive:   cmd.Name() == "shell",
			DebugDir:      config.DebugDir(),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			// Debug logging is optional; carry on with stderr only.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		ui.Error(err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.portage/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user the backend calls are made for (env: PORTAGE_USER)")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "organization the backend calls are made for (env: PORTAGE_ORG)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "integrations backend URL (env: PORTAGE_BACKEND_URL)")
}
