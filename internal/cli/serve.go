// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/server"
)

// shutdownTimeout bounds graceful shutdown of open streams.
const shutdownTimeout = 10 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the session and reply API over HTTP.

Replies and change notifications are streamed as server-sent events.
With --token every request must carry "Authorization: Bearer <token>"
(or ?token= for event streams). TINYCHAT_SERVER_TOKEN sets the default.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(app.Options{WatchSettings: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			srv := a.NewServer(addr, token)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			fmt.Fprintf(cmd.OutOrStdout(), "%s http://%s\n", RenderConditional(SuccessStyle, "Listening on"), ln.Addr())
			if token == "" {
				fmt.Fprintln(cmd.OutOrStdout(), RenderConditional(WarningStyle, "Authentication disabled; use --token to require a bearer token"))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			// Serve may not have started yet.
			ln.Close()
			if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&token, "token", os.Getenv("TINYCHAT_SERVER_TOKEN"), "bearer token required by every request")
	return cmd
}
