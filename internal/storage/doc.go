// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the session index and transcript details.
//
// # Layout
//
//	<configDir>/session/index.json   map of id -> index record
//	<configDir>/session/<id>.json    one transcript detail per session
//
// Dates are written as epoch milliseconds. Every write is atomic (temp file,
// fsync, rename) and first makes sure the directory exists.
//
// # Failure model
//
// Storage failures are soft. ListIndex falls back to an empty index,
// SaveIndexEntry returns FailedID, LoadDetail reports absence, and every
// error wraps status.ErrPersistenceUnavailable so callers can keep running.
//
// # Usage
//
//	store := storage.NewSessionStore(storage.SessionDir(configDir), hub)
//	id, err := store.SaveIndexEntry(nil)        // new session
//	t, ok := store.LoadDetail(id)
//	t.Name = "Renamed"
//	t.Messages = nil                             // index-only update
//	_, err = store.SaveIndexEntry(t)
package storage
