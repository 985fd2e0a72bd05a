// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts and messages.
//
// # Key Types
//
//   - Message: one turn with role, content, date, optional ticks and handle
//   - IndexRecord: the summary of a session stored in the session index
//   - Transcript: the full session, an IndexRecord plus its messages
//   - Timestamp: the date codec, epoch milliseconds on disk
//
// # On-disk shape
//
// A transcript detail file looks like:
//
//	{
//	  "id": "7c1d...", "fileName": "7c1d...", "name": "New session",
//	  "nameGenerate": false, "createTime": 1718000000000,
//	  "updateTime": 1718000000000,
//	  "chatList": [{"role": "user", "content": "hi", "date": 1718000000000, "id": 0}]
//	}
package model
