// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package status defines the error taxonomy and the result envelope.
//
// Sentinel errors are matched with errors.Is. Each maps to a stable Code that
// the HTTP API reports inside a Result:
//
//	{"success": false, "code": "E20009", "message": "...", "data": null}
//
// Soft failures (a degraded index, a sync that did not reach disk) are
// reported with Warn so the data still reaches the caller.
package status
