// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema of the message index.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per indexed session
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    update_time INTEGER NOT NULL  -- epoch millis
) WITHOUT ROWID;

-- One row per message; handle is the position index handle
CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    handle INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    date INTEGER NOT NULL,        -- epoch millis
    PRIMARY KEY (session_id, handle),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
