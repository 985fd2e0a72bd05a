// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/log"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configDir string
	logLevel  string
}

// dir returns the configuration directory, creating it if needed.
func (g *globalFlags) dir() (string, error) {
	dir := g.configDir
	if dir == "" {
		var err error
		if dir, err = config.ConfigDir(); err != nil {
			return "", fmt.Errorf("resolve config directory: %w", err)
		}
	}
	if err := config.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// open builds the application over the selected configuration directory.
func (g *globalFlags) open(opts app.Options) (*app.App, error) {
	opts.ConfigDir = g.configDir
	return app.New(opts)
}

// settings opens the settings store alone, for commands that never touch
// sessions.
func (g *globalFlags) settings() (*config.Store, error) {
	dir, err := g.dir()
	if err != nil {
		return nil, err
	}
	store := config.NewStore(dir, nil)
	if _, err := store.Load(); err != nil {
		log.Warn().Err(err).Str("path", store.Path()).Msg("settings reset to defaults")
	}
	return store, nil
}

// NewRootCmd builds the tinychat command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "tinychat",
		Short: "Chat with ChatGPT and ERNIE Bot from the terminal",
		Long: `tinychat keeps chat sessions on disk and streams replies from
ChatGPT (OpenAI-compatible endpoints) or Baidu ERNIE Bot.

Sessions are shared between the one-shot ask command, the interactive
chat REPL and the local HTTP server started by serve.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.logLevel != "" {
				log.SetLevel(g.logLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		serveCmd(g),
		askCmd(g),
		chatCmd(g),
		sessionsCmd(g),
		configCmd(g),
		usageCmd(g),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, RenderConditional(ErrorStyle, "Error:"), err)
		return ExitCodeFor(err)
	}
	return ExitSuccess
}
