// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across tinychat packages.
//
// File Operations:
//   - AtomicWriteFile, WriteJSONFile: crash-safe writes (temp file, fsync, rename)
//   - ReadJSONFile: decode a JSON file
//
// String Utilities:
//   - TruncateRunes, TruncateRunesNoEllipsis, TailRunes: rune-safe slicing
//   - NormalizeTitle: whitespace folding and NFC for generated titles
//   - PadRight, DisplayWidth: terminal cell aware padding
package util
