// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package log is the process-wide structured logger.
//
// It wraps a single zerolog.Logger. Output goes to stderr, pretty printed when
// stderr is a terminal and as JSON lines otherwise. The level defaults to info
// and can be changed with TINYCHAT_LOG_LEVEL or SetLevel.
//
// # Usage
//
//	log.Info().Str("session", id).Msg("session loaded")
//	log.Error().Err(err).Str("provider", "chatgpt").Msg("stream failed")
package log
