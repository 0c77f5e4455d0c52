package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphabot-ai/hackorsnooze/internal/client"
	"github.com/alphabot-ai/hackorsnooze/internal/model"
)

var sampleStories = []model.NewStory{
	{Title: "Show HN: A tiny news site that patches HTML over SSE", URL: "https://example.com/sse-news", Author: "Ada Lovelace"},
	{Title: "The Future of Server-Rendered Web Apps", URL: "https://example.com/server-rendered", Author: "Grace Hopper"},
	{Title: "Why Every Side Project Needs a Favorites List", URL: "https://example.com/favorites", Author: "Alan Kay"},
	{Title: "New Study: Readers Prefer Short Headlines", URL: "https://example.com/headline-study", Author: "Barbara Liskov"},
	{Title: "How We Scaled a Story Feed to a Million Readers", URL: "https://example.com/scaling-feeds", Author: "Ken Thompson"},
	{Title: "The Ethics of Infinite Scroll", URL: "https://example.com/infinite-scroll", Author: "Margaret Hamilton"},
	{Title: "Show HN: I Rewrote My Blog in Go", URL: "https://example.com/blog-in-go", Author: "Rob Pike"},
	{Title: "A Field Guide to Hypermedia Controls", URL: "https://example.com/hypermedia", Author: "Roy Fielding"},
	{Title: "SQLite Is Enough for Most Sessions", URL: "https://example.com/sqlite-sessions", Author: "Richard Hipp"},
	{Title: "Snooze Buttons, Considered Harmful", URL: "https://example.com/snooze", Author: "Edsger Dijkstra"},
}

func newSeedCmd(a *cliApp) *cobra.Command {
	var (
		name     string
		username string
		password string
		signup   bool
		count    int
		favorite bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Post sample stories as a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			ctx := cmd.Context()
			api := client.New(a.cfg.APIBaseURL, a.cfg.APITimeout, a.log)

			var user model.User
			var err error
			if signup {
				if name == "" {
					name = username
				}
				user, err = api.Signup(ctx, name, username, password)
			} else {
				user, err = api.Login(ctx, username, password)
			}
			if err != nil {
				return fmt.Errorf("authenticate %s: %w", username, err)
			}
			a.log.Info("seeding stories", "api", a.cfg.APIBaseURL, "username", user.Username)

			out := cmd.OutOrStdout()
			if count <= 0 || count > len(sampleStories) {
				count = len(sampleStories)
			}
			posted := 0
			for i, in := range sampleStories[:count] {
				story, err := api.AddStory(ctx, user.LoginToken, in)
				if err != nil {
					a.log.Warn("post story failed", "title", in.Title, "error", err)
					continue
				}
				posted++
				fmt.Fprintf(out, "posted %s: %s\n", story.ID, story.Title)

				// Favorite every other story so the favorites list has content.
				if favorite && i%2 == 0 {
					if _, err := api.AddFavorite(ctx, user.LoginToken, user.Username, story.ID); err != nil {
						a.log.Warn("favorite failed", "story_id", story.ID, "error", err)
					}
				}
			}
			fmt.Fprintf(out, "seeded %d of %d stories as %s\n", posted, count, user.Username)
			if posted == 0 {
				return errors.New("no stories were posted")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&name, "name", "", "Display name when signing up")
	cmd.Flags().BoolVar(&signup, "signup", false, "Create the account before seeding")
	cmd.Flags().IntVar(&count, "count", len(sampleStories), "Number of sample stories to post")
	cmd.Flags().BoolVar(&favorite, "favorite", true, "Favorite every other posted story")
	return cmd
}
