package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/ranking"
)

func newFeedCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feed <username>",
		Short: "Show a user's ranked feed with its score breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			username := args[0]
			if _, err := a.svc.LookupUser(ctx, username); err != nil {
				if agerr.HasCode(err, agerr.CodeNotFound) {
					return NewNotFoundError(err, "user", username)
				}
				return err
			}
			items, _, err := a.feed.Feed(ctx, username, limit)
			if err != nil {
				return err
			}
			if root.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			printFeed(cmd.OutOrStdout(), username, items, a.svc.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "number of posts to show")
	return cmd
}

func printFeed(w io.Writer, username string, items []ranking.ScoredItem, now time.Time) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "Feed for @%s\n", username)
	if len(items) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tTEMP\tENG\tSOCIAL\tPENALTY\tAGE\tAUTHOR\tTITLE")
	for i, it := range items {
		c := it.Candidate
		fmt.Fprintf(tw, "%d\t%.3f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t@%s\t%s\n",
			i+1, it.Score, it.Temporal, it.Engagement, it.Social, it.Penalty,
			now.Sub(c.CreatedAt).Round(time.Minute), c.AuthorUsername, c.Title)
	}
	_ = tw.Flush()
}
