// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// usage.go - Usage report command.
//
// Examples:
//
//	tinychat usage
//	tinychat usage --days 30 --json
//	tinychat usage --prune 90
package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/telemetry"
)

func usageCmd(g *globalFlags) *cobra.Command {
	var (
		days   int
		prune  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show replies and estimated tokens per day",
		Long: `Show how many replies were requested and roughly how many tokens
they used. Token counts are estimated from message sizes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return usageErr("--days must be at least 1", "tinychat usage --days 7")
			}

			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Usage == nil {
				return status.Wrap(status.E20005, "usage", status.ErrUnsupportedOperation)
			}

			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("prune") {
				removed, err := a.Usage.Prune(prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d day(s) of usage history\n", RenderConditional(SuccessStyle, "Removed"), removed)
				return nil
			}

			trends := a.Usage.Trends(days)
			if asJSON {
				return writeJSON(out, trends)
			}
			printTrends(out, trends)
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to include, today included")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete history older than this many days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printTrends(out io.Writer, t *telemetry.UsageTrends) {
	fmt.Fprintln(out, RenderConditional(TitleStyle, fmt.Sprintf("Usage, last %d day(s)", t.Days)))
	fmt.Fprintln(out, RenderLabel("Replies")+strconv.Itoa(t.Replies))
	fmt.Fprintln(out, RenderLabel("Failed")+strconv.Itoa(t.Failed))
	fmt.Fprintf(out, "%s~%d in / ~%d out\n", RenderLabel("Tokens"), t.Tokens.Input, t.Tokens.Output)
	fmt.Fprintln(out, RenderLabel("Waiting")+t.Duration.Round(time.Second).String())

	if len(t.Providers) > 0 {
		names := make([]string, 0, len(t.Providers))
		for name := range t.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out)
		tb := &table{headers: []string{"PROVIDER", "TOKENS IN", "TOKENS OUT"}}
		for _, name := range names {
			tc := t.Providers[name]
			tb.add(name, strconv.Itoa(tc.Input), strconv.Itoa(tc.Output))
		}
		tb.render(out)
	}

	if len(t.Daily) == 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, RenderConditional(DimStyle, "No activity."))
		return
	}
	fmt.Fprintln(out)
	tb := &table{headers: []string{"DATE", "REPLIES", "FAILED", "TOKENS"}}
	for _, d := range t.Daily {
		tb.add(d.Date, strconv.Itoa(d.Replies), strconv.Itoa(d.Failed), strconv.Itoa(d.Tokens.Total()))
	}
	tb.render(out)
}
