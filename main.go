// tinychat - terminal and local HTTP client for ChatGPT and ERNIE Bot.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/tinychat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
}

func main() {
	os.Exit(cli.Execute())
}
