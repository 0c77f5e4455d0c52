package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alphabot-ai/hackorsnooze/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliApp struct {
	cfg    config.Config
	log    *slog.Logger
	apiURL string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &cliApp{}

	cmd := &cobra.Command{
		Use:          "hackorsnooze",
		Short:        "Hack or Snooze web front-end",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the site (default)
  hackorsnooze

  # List the newest stories from the API
  hackorsnooze stories --limit 10

  # Post sample stories as an existing user
  hackorsnooze seed --username ann --password secret
`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if a.apiURL != "" {
				cfg.APIBaseURL = strings.TrimRight(a.apiURL, "/")
			}
			cfg.Version = version
			a.cfg = cfg
			a.log = cfg.Logger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg, a.log)
		},
	}

	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "Story API base URL (overrides HOS_API_URL)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newStoriesCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "hackorsnooze", version)
			return err
		},
	})
	return cmd
}
