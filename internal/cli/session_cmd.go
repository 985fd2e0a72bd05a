// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - Session management commands.
//
// Sessions are addressed by their number in 'tinychat sessions list'
// (1-based) or by id.
//
// Examples:
//
//	tinychat sessions list
//	tinychat sessions show 1
//	tinychat sessions rename 2 "Trip planning"
//	tinychat sessions delete 3
//	tinychat sessions search "goroutine"
//	tinychat sessions export 1 --format html -o ~/notes
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/export"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/search"
	"github.com/jeranaias/tinychat/internal/session"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/util"
)

// nameColumnWidth bounds session names in tables.
const nameColumnWidth = 32

func sessionsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, inspect and manage chat sessions",
	}
	cmd.AddCommand(
		sessionsListCmd(g),
		sessionsShowCmd(g),
		sessionsRenameCmd(g),
		sessionsDeleteCmd(g),
		sessionsSearchCmd(g),
		sessionsExportCmd(g),
	)
	return cmd
}

// =============================================================================
// LIST
// =============================================================================

func sessionsListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions in the configured order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.Catalog.Entries()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, entries)
			}
			var active string
			if t := a.Catalog.Active(); t != nil {
				active = t.ID
			}
			printSessionTable(out, entries, active)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printSessionTable(out io.Writer, entries []session.Entry, active string) {
	t := &table{headers: []string{"#", "NAME", "UPDATED", "STATUS", "ID"}}
	for i, e := range entries {
		num := strconv.Itoa(i + 1)
		if e.ID == active {
			num = "*" + num
		}
		t.add(
			num,
			util.TruncateRunes(e.Name, nameColumnWidth),
			formatTime(e.UpdateTime),
			string(e.Status),
			e.ID,
		)
	}
	t.render(out)
	fmt.Fprintf(out, "\nTotal: %d session(s)\n", len(entries))
}

// =============================================================================
// SHOW
// =============================================================================

func sessionsShowCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := resolveSession(a.Catalog, args[0], false)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, t.Persisted())
			}

			fmt.Fprintln(out, RenderConditional(TitleStyle, t.Name))
			fmt.Fprintln(out, RenderLabel("ID")+t.ID)
			fmt.Fprintln(out, RenderLabel("Created")+formatTime(t.CreateTime))
			fmt.Fprintln(out, RenderLabel("Updated")+formatTime(t.UpdateTime))
			if st, ok := a.Catalog.Status(t.ID); ok {
				fmt.Fprintln(out, RenderLabel("Status")+RenderState(st.State, st.SubStatus))
			}
			fmt.Fprintln(out, RenderSeparator())

			msgs := t.Store.Messages()
			if len(msgs) == 0 {
				fmt.Fprintln(out, RenderConditional(DimStyle, "(no messages)"))
				return nil
			}
			for _, m := range msgs {
				printMessage(out, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the stored transcript as JSON")
	return cmd
}

func printMessage(out io.Writer, m model.Message) {
	style := PromptStyle
	if m.Role == model.RoleAssistant {
		style = AssistantStyle
	}
	fmt.Fprintf(out, "%s %s\n", RenderConditional(style, formatRole(m.Role)+":"), RenderConditional(DimStyle, formatTime(m.Date)))
	fmt.Fprintln(out, m.Content)
	fmt.Fprintln(out)
}

// =============================================================================
// RENAME / DELETE
// =============================================================================

func sessionsRenameCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session> <name>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return usageErr("name must not be empty", `tinychat sessions rename 1 "Trip planning"`)
			}

			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := resolveSession(a.Catalog, args[0], false)
			if err != nil {
				return err
			}
			generated := false
			if _, err := a.Catalog.SyncSessionInfo(t.ID, &session.SessionPatch{Name: &name, NameGenerated: &generated}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s renamed to %q\n", RenderConditional(SuccessStyle, "Session"), name)
			return nil
		},
	}
}

func sessionsDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session>",
		Aliases: []string{"rm"},
		Short:   "Delete a session",
		Long: `Delete a session and its transcript file.

Deleting the only session leaves a new empty one in its place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := resolveSession(a.Catalog, args[0], false)
			if err != nil {
				return err
			}
			if err := a.Catalog.DeleteSessionInfo(t.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q deleted\n", RenderConditional(SuccessStyle, "Session"), t.Name)
			return nil
		},
	}
}

func sessionsExportCmd(g *globalFlags) *cobra.Command {
	var (
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Export a session as markdown, html, text or json",
		Long: `Export a session transcript.

Without --output the document is written to stdout. With --output it is
saved in that directory under a name derived from the session title.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.ForFormat(format, nil)
			if err != nil {
				return usageErr(err.Error(), "tinychat sessions export 1 --format md")
			}

			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := resolveSession(a.Catalog, args[0], false)
			if err != nil {
				return err
			}
			persisted := t.Persisted()
			out := cmd.OutOrStdout()

			if outDir == "" {
				data, err := exp.Export(persisted)
				if errors.Is(err, export.ErrEmptyTranscript) {
					return status.Wrap(status.E10001, "export", status.ErrNoContent)
				}
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			path, err := export.WriteFile(persisted, exp, outDir)
			if errors.Is(err, export.ErrEmptyTranscript) {
				return status.Wrap(status.E10001, "export", status.ErrNoContent)
			}
			if err != nil {
				return status.Wrap(status.E20007, "export", err)
			}
			fmt.Fprintf(out, "%s %s\n", RenderConditional(SuccessStyle, "Exported to"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format ("+strings.Join(export.Formats(), ", ")+")")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory to write the file into")
	return cmd
}

// =============================================================================
// SEARCH
// =============================================================================

func sessionsSearchCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search message text across all sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return usageErr("query must not be empty", `tinychat sessions search goroutine`)
			}

			a, err := g.open(app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Search == nil {
				return status.Wrap(status.E20005, "search", fmt.Errorf("search index unavailable: %w", status.ErrUnsupportedOperation))
			}

			hits, err := a.Search.Search(cmd.Context(), query, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, hits)
			}
			printHits(out, hits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printHits(out io.Writer, hits []search.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(out, "No matches.")
		return
	}
	t := &table{headers: []string{"SESSION", "ROLE", "DATE", "TEXT"}}
	for _, h := range hits {
		t.add(
			util.TruncateRunes(h.SessionName, 24),
			formatRole(h.Role),
			formatTime(h.Date),
			h.Snippet,
		)
	}
	t.render(out)
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveSession finds a session by 1-based listing number or id. An empty
// ref selects the active session. With activate set the session becomes the
// active one.
func resolveSession(c *session.Catalog, ref string, activate bool) (*session.Transcript, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		if t := c.Active(); t != nil {
			return t, nil
		}
		return nil, status.Wrap(status.E20006, "resolve session", status.ErrSessionNotFound)
	}

	id := ref
	if n, err := strconv.Atoi(ref); err == nil {
		index := c.Index()
		if n < 1 || n > len(index) {
			return nil, status.Wrap(status.E20006, "resolve session", fmt.Errorf("#%d: %w", n, status.ErrSessionNotFound))
		}
		id = index[n-1].ID
	}

	if activate {
		return c.LoadSession(id)
	}
	return c.Session(id)
}

// formatRole formats a message role for display.
func formatRole(r model.Role) string {
	return r.DisplayName()
}

// formatTime formats a timestamp in local time, or "-" when unset.
func formatTime(ts model.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Time().Local().Format(time.DateTime)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table lays out columns by display width so wide runes line up.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(out io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = util.DisplayWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := util.DisplayWidth(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	fmt.Fprintln(out, RenderConditional(HeaderStyle, t.line(t.headers, widths)))
	for _, row := range t.rows {
		fmt.Fprintln(out, t.line(row, widths))
	}
}

func (t *table) line(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i == len(cells)-1 {
			b.WriteString(cell)
			break
		}
		b.WriteString(util.PadRight(cell, widths[i]))
		b.WriteString("  ")
	}
	return b.String()
}
