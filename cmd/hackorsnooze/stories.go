package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alphabot-ai/hackorsnooze/internal/client"
)

func newStoriesCmd(a *cliApp) *cobra.Command {
	var (
		opts   client.ListOpts
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List stories from the story API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.New(a.cfg.APIBaseURL, a.cfg.APITimeout, a.log)
			stories, err := api.GetStories(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"stories": stories})
			}
			now := time.Now()
			for i, s := range stories {
				age := ""
				if !s.CreatedAt.IsZero() {
					age = ", " + humanize.RelTime(s.CreatedAt, now, "ago", "from now")
				}
				fmt.Fprintf(out, "%3d. %s (%s)\n     by %s, posted by %s%s [%s]\n",
					opts.Skip+i+1, s.Title, s.HostName(), s.Author, s.Username, age, s.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "Number of stories to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 25, "Maximum number of stories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
