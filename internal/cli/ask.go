// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//
//	tinychat ask "What is a goroutine?"
//	tinychat ask --session 2 "And a channel?"
//	tinychat ask --render "Show me a table of HTTP verbs"
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/provider"
	"github.com/jeranaias/tinychat/internal/session"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown content for terminal display. Returns the
// original content if rendering fails.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func askCmd(g *globalFlags) *cobra.Command {
	var (
		sessionRef string
		render     bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the reply",
		Long: `Append a question to a session and stream the reply to stdout.

Without --session the question goes to the first session in the listing.
With --render the finished reply is printed as rendered markdown when
stdout is a terminal; piped output is always streamed as plain text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return usageErr("question must not be empty", `tinychat ask "What is a goroutine?"`)
			}

			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := resolveSession(a.Catalog, sessionRef, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return streamAnswer(ctx, a.Responder, a.Catalog, sess.ID, question, out, render && isTerminalWriter(out))
		},
	}

	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "session number (from 'sessions list') or id")
	cmd.Flags().BoolVarP(&render, "render", "r", false, "render the reply as markdown")
	return cmd
}

// streamAnswer streams the reply to question into out. When render is set
// the reply is collected and printed once as rendered markdown.
func streamAnswer(ctx context.Context, r *provider.Responder, c *session.Catalog, id, question string, out io.Writer, render bool) error {
	err := r.StreamReply(ctx, id, question, func(first bool, delta string) {
		if !render {
			fmt.Fprint(out, delta)
		}
	})
	if !render {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}

	if render {
		store, err := c.Store(id)
		if err != nil {
			return err
		}
		msgs := store.Messages()
		if n := len(msgs); n > 0 && msgs[n-1].Role == model.RoleAssistant {
			fmt.Fprint(out, renderMarkdown(msgs[n-1].Content, GetTerminalWidth()-4))
		}
	}
	return nil
}
