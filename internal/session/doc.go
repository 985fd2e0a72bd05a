// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates the chat sessions of one user.
//
// The Catalog decides which session is active and is the single path by
// which transcript changes reach disk: a transcript.Store never talks to
// persistence itself. Each session carries a sync status recording whether
// its in-memory state matches the persisted one, plus the long-running
// operation (title or reply generation) currently in flight.
//
// # Usage
//
//	cat := session.NewCatalog(store, func() string { return cfg.Get().Session.SortType })
//	if err := cat.Initialize(); err != nil {
//	    log.Warn().Err(err).Msg("session storage degraded")
//	}
//	active := cat.Active()
//	active.Store.AppendUserMessage("hello")
//	cat.SyncTranscript(active.ID)
package session
