// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records how much tinychat talks to its providers.
//
// Every finished reply is counted into a bucket for its local day. Buckets
// are JSON files under <config dir>/usage, one per day, so old history can
// be pruned by deleting files.
//
// # Usage
//
//	tracker, err := telemetry.NewUsageTracker(filepath.Join(dir, "usage"))
//	tracker.Record(telemetry.Reply{
//	    Session:     id,
//	    Provider:    "chatgpt",
//	    PromptChars: 420,
//	    ReplyChars:  1800,
//	    Duration:    3 * time.Second,
//	})
//
//	trends := tracker.Trends(7)
//	fmt.Printf("%d replies this week\n", trends.Replies)
//
// # Privacy
//
// Tracking is local-only. Message text is never stored, only sizes and
// estimated token counts.
package telemetry
