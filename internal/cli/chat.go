// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Interactive Commands (during chat):
//
//	/help, /h           Show available commands
//	/new                Start a new session
//	/list, /ls          List sessions
//	/switch N           Switch to session N (or id)
//	/delete             Delete the current session
//	/title              Generate a title for the current session
//	/quit, /q           Exit chat
//	Ctrl+C              Cancel current generation
//	Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/log"
)

// historyFileName is the REPL input history inside the config directory.
const historyFileName = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input per call. io.EOF ends the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in dir.
func NewChatCLI(dir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, historyFileName),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line of input. Non-empty input is added to the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history, readable by the owner only.
func (c *ChatCLI) SaveHistory() {
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		log.Debug().Err(err).Str("path", c.historyFile).Msg("chat history not saved")
		return
	}
	defer f.Close()
	if _, err := c.line.WriteHistory(f); err != nil {
		log.Debug().Err(err).Msg("chat history not saved")
	}
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	c.SaveHistory()
	return c.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func chatCmd(g *globalFlags) *cobra.Command {
	var sessionRef string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat on the active session.

Type a message and press Enter to send it. Lines starting with / are
commands; type /help to list them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(app.Options{DisableSearch: true})
			if err != nil {
				return err
			}
			defer a.Close()

			cs := &chatSession{app: a, out: cmd.OutOrStdout()}
			t, err := resolveSession(a.Catalog, sessionRef, true)
			if err != nil {
				return err
			}
			cs.id = t.ID

			in := NewChatCLI(a.Dir)
			defer in.Close()
			return cs.run(cmd.Context(), in)
		},
	}
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "session number (from 'sessions list') or id")
	return cmd
}

// chatSession is the state of one REPL run.
type chatSession struct {
	app *app.App
	out io.Writer
	id  string
}

// run reads input until /quit or end of input.
func (cs *chatSession) run(ctx context.Context, in lineReader) error {
	cs.printWelcome()

	for {
		input, err := in.Prompt(cs.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(cs.out, RenderConditional(DimStyle, "(Ctrl+D or /quit to exit)"))
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(cs.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := cs.handleSlashCommand(ctx, input)
			if err != nil {
				cs.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := cs.send(ctx, input); err != nil {
			cs.printError(err)
		}
	}
}

// send streams the reply to input. Ctrl+C cancels the generation only.
func (cs *chatSession) send(ctx context.Context, input string) error {
	genCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprint(cs.out, RenderConditional(AssistantStyle, "Assistant: "))
	return streamAnswer(genCtx, cs.app.Responder, cs.app.Catalog, cs.id, input, cs.out, false)
}

func (cs *chatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]
	c := cs.app.Catalog

	switch name {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h":
		cs.printHelp()

	case "/new":
		t, err := c.CreateSession()
		if t == nil {
			return false, err
		}
		cs.id = t.ID
		fmt.Fprintf(cs.out, "%s %s\n", RenderConditional(SuccessStyle, "New session"), t.Name)
		if err != nil {
			fmt.Fprintln(cs.out, RenderConditional(WarningStyle, "Not saved to disk: "+err.Error()))
		}

	case "/list", "/ls":
		printSessionTable(cs.out, c.Entries(), cs.id)

	case "/switch":
		if len(args) != 1 {
			return false, usageErr("usage: /switch N", "/switch 2")
		}
		t, err := resolveSession(c, args[0], true)
		if err != nil {
			return false, err
		}
		cs.id = t.ID
		fmt.Fprintf(cs.out, "Switched to %s (%d messages)\n", RenderConditional(TitleStyle, t.Name), t.Store.Len())

	case "/delete":
		rec, _ := c.Lookup(cs.id)
		if err := c.DeleteSessionInfo(cs.id); err != nil {
			return false, err
		}
		if t := c.Active(); t != nil {
			cs.id = t.ID
		}
		fmt.Fprintf(cs.out, "Deleted %q\n", rec.Name)

	case "/title":
		title, err := cs.app.Responder.RefreshTitle(ctx, cs.id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(cs.out, "Title: %s\n", RenderConditional(TitleStyle, title))

	default:
		return false, usageErr("unknown command "+name, "/help")
	}
	return false, nil
}

func (cs *chatSession) prompt() string {
	name := "chat"
	if rec, ok := cs.app.Catalog.Lookup(cs.id); ok {
		name = rec.Name
	}
	return fmt.Sprintf("[%s] > ", name)
}

func (cs *chatSession) printWelcome() {
	fmt.Fprintln(cs.out, RenderConditional(TitleStyle, "tinychat "+Version))
	if rec, ok := cs.app.Catalog.Lookup(cs.id); ok {
		fmt.Fprintf(cs.out, "Session: %s\n", rec.Name)
	}
	fmt.Fprintln(cs.out, RenderConditional(DimStyle, "Type /help for commands, /quit to exit."))
	fmt.Fprintln(cs.out)
}

func (cs *chatSession) printHelp() {
	fmt.Fprintln(cs.out, `Commands:
  /new          Start a new session
  /list         List sessions
  /switch N     Switch to session N (or id)
  /delete       Delete the current session
  /title        Generate a title for the current session
  /quit         Exit chat`)
}

func (cs *chatSession) printError(err error) {
	fmt.Fprintln(cs.out, RenderConditional(ErrorStyle, "Error:"), err)
}
