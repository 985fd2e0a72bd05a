// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes sessions, replies and settings over a local
// HTTP/JSON API.
//
// Endpoints:
//   - GET    /health                                - Health check
//   - GET    /api/sessions                          - Ordered sessions with sync status
//   - POST   /api/sessions                          - Create and activate a session
//   - GET    /api/sessions/{id}                     - Load and activate a session
//   - PUT    /api/sessions/{id}                     - Rename or replace messages
//   - DELETE /api/sessions/{id}                     - Delete a session
//   - GET    /api/sessions/{id}/status              - Recent sync statuses
//   - DELETE /api/sessions/{id}/messages/{handle}   - Remove one message
//   - POST   /api/sessions/{id}/reply               - Stream a reply (SSE)
//   - POST   /api/sessions/{id}/title               - Generate a title
//   - GET    /api/sessions/{id}/export?format=      - Download as md, html, txt or json
//   - GET    /api/search?q=                         - Search every transcript
//   - GET    /api/usage?days=                       - Reply counts and estimated tokens
//   - GET    /api/settings, PUT /api/settings       - Read or replace settings
//   - GET    /api/events                            - Change events (SSE)
//
// Every JSON body is a status.Result envelope. Streams send progress
// events followed by a single done or error event carrying an envelope.
package server
