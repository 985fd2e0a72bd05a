// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search keeps a SQLite index of every persisted message for
// substring search across sessions.
//
// # Key Types
//
//   - Index: SQLite-backed message index
//   - Hit: one matching message with a snippet around the match
//   - Indexer: keeps an Index current from session-updated events
//
// # Usage
//
//	idx, err := search.Open(filepath.Join(dir, "search.db"))
//	defer idx.Close()
//	err = idx.Rebuild(ctx, sessionStore)
//	go search.NewIndexer(idx, sessionStore).Run(ctx, hub)
//
//	hits, err := idx.Search(ctx, "kubernetes", 20)
//	for _, h := range hits {
//	    fmt.Printf("%s #%d %s\n", h.SessionName, h.Handle, h.Snippet)
//	}
package search
