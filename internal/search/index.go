// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
)

// MemoryPath opens an index that lives only as long as the process.
const MemoryPath = ":memory:"

// DefaultLimit is used when Search is called without a positive limit.
const DefaultLimit = 50

// snippetRadius is how many characters of context surround a match.
const snippetRadius = 40

// Error types
var (
	ErrDatabaseError = errors.New("database error")
	ErrClosed        = errors.New("search index closed")
)

// Hit is one message matching a query.
type Hit struct {
	SessionID   string          `json:"sessionId"`
	SessionName string          `json:"sessionName"`
	Handle      int             `json:"handle"`
	Role        model.Role      `json:"role"`
	Date        model.Timestamp `json:"date"`
	Snippet     string          `json:"snippet"`
}

// Source lists every persisted transcript. *storage.SessionStore
// implements it.
type Source interface {
	Details() []*model.Transcript
}

// Index is a SQLite index of messages.
type Index struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the index database at path. MemoryPath keeps it in
// memory.
func Open(path string) (*Index, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if path != MemoryPath {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &Index{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	if _, err := idx.db.Exec(Schema); err != nil {
		return err
	}
	_, err := idx.db.Exec(InitMetadata)
	return err
}

// Path returns the database path.
func (idx *Index) Path() string {
	return idx.path
}

// Close closes the database. Closing twice is safe.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// IndexTranscript replaces everything indexed for t.
func (idx *Index) IndexTranscript(ctx context.Context, t *model.Transcript) error {
	if t == nil || t.ID == "" {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if err := upsertSession(ctx, tx, t.IndexRecord); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", t.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO messages (session_id, handle, role, content, date) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer stmt.Close()

	for _, m := range t.Messages {
		if m.Content == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, t.ID, m.Handle, string(m.Role), m.Content, m.Date.Millis()); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// UpdateSession refreshes the name of an indexed session without touching
// its messages.
func (idx *Index) UpdateSession(ctx context.Context, rec model.IndexRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}

	_, err := idx.db.ExecContext(ctx,
		"UPDATE sessions SET name = ?, update_time = ? WHERE id = ?",
		rec.Name, rec.UpdateTime.Millis(), rec.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, rec model.IndexRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, update_time) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, update_time = excluded.update_time`,
		rec.ID, rec.Name, rec.UpdateTime.Millis())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Remove drops session id and its messages.
func (idx *Index) Remove(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}

	// Messages go with the session through the foreign key.
	if _, err := idx.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Rebuild clears the index and indexes every transcript of src.
func (idx *Index) Rebuild(ctx context.Context, src Source) error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return ErrClosed
	}
	_, err := idx.db.ExecContext(ctx, "DELETE FROM sessions")
	idx.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	count := 0
	for _, t := range src.Details() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.IndexTranscript(ctx, t); err != nil {
			return err
		}
		count++
	}
	log.Debug().Int("sessions", count).Msg("search index rebuilt")
	return nil
}

// Count returns how many messages are indexed.
func (idx *Index) Count(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0, ErrClosed
	}

	var n int
	if err := idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// =============================================================================
// SEARCH
// =============================================================================

// Search returns messages containing query, newest first. Matching ignores
// ASCII case. A blank query matches nothing.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.session_id, s.name, m.handle, m.role, m.content, m.date
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE m.content LIKE ? ESCAPE '\'
		ORDER BY m.date DESC, m.handle DESC
		LIMIT ?`,
		"%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			h       Hit
			name    sql.NullString
			role    string
			content string
			date    int64
		)
		if err := rows.Scan(&h.SessionID, &name, &h.Handle, &role, &content, &date); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		h.SessionName = name.String
		h.Role = model.Role(role)
		h.Date = model.FromMillis(date)
		h.Snippet = snippet(content, query)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return hits, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet returns the text around the first match of query in content, on
// one line, with "..." where it was cut.
func snippet(content, query string) string {
	runes := []rune(strings.Join(strings.Fields(content), " "))
	needle := []rune(strings.Join(strings.Fields(query), " "))

	at := indexFold(runes, needle)
	if at < 0 {
		at = 0
	}
	start := max(at-snippetRadius, 0)
	end := min(at+len(needle)+snippetRadius, len(runes))

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[start:end]))
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}

// indexFold finds needle in haystack ignoring case, in runes.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i
	}
	return -1
}
