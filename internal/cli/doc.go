// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the tinychat command line.
//
// Every command opens the same configuration directory, so sessions created
// by ask are visible to chat, to the sessions commands and to the HTTP
// server.
//
// # Commands
//
//   - serve: Local HTTP API with server-sent events
//   - ask: Single question, streamed to stdout
//   - chat: Interactive REPL with input history
//   - sessions: list, show, rename, delete, search, export
//   - config: show, set, set-token, export, import, path
//   - usage: Replies and estimated tokens per day
//
// Global flags --config-dir and --log-level apply to every command.
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
package cli
