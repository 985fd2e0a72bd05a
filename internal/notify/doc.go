// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify fans change events out to subscribers.
//
// Session storage publishes a session-updated event with the full
// {index, detail} snapshot after every write, and the settings store
// publishes settings-updated. The HTTP server relays events to clients over
// SSE and the search indexer consumes them to stay current.
package notify
