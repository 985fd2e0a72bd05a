// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes session transcripts to shareable documents.
//
// # Key Types
//
//   - Exporter: Converts a transcript to one format
//   - Options: Metadata and timestamp switches
//
// # Supported Formats
//
//   - json: The transcript exactly as stored
//   - md: Markdown with a YAML front matter block
//   - html: A standalone page, message bodies rendered from markdown
//   - txt: Plain text
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.WriteFile(transcript, exp, dir)
package export
