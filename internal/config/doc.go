// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages the tinychat settings record.
//
// Settings live in <configDir>/setting.json as camelCase JSON. Loading merges
// the file over Default, so a file that only sets a few keys is valid.
//
// # Key Types
//
//   - Settings: the full record (model, session, general, ...)
//   - Store: cached load/get/set with change broadcasts
//   - Watcher: reloads the Store when the file is edited externally
//
// # Environment
//
// Store.Effective overlays TINYCHAT_OPENAI_TOKEN, TINYCHAT_OPENAI_PROXY,
// TINYCHAT_WENXIN_TOKEN and TINYCHAT_DEFAULT_MODEL without persisting them.
// TINYCHAT_CONFIG_DIR relocates the configuration directory.
//
// # Usage
//
//	store := config.NewStore(dir, hub)
//	s := store.Get()
//	next, err := s.With("model.common.defaultModel", "wenxin")
//	_, err = store.Set(next)
package config
