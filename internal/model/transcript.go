// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts and messages.
package model

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultSessionName is the display name given to new sessions.
const DefaultSessionName = "New session"

// =============================================================================
// INDEX RECORD
// =============================================================================

// IndexRecord is the lightweight summary of a transcript kept in the session
// index file.
type IndexRecord struct {
	ID            string    `json:"id"`
	FileName      string    `json:"fileName"`
	Name          string    `json:"name"`
	NameGenerated bool      `json:"nameGenerate"`
	CreateTime    Timestamp `json:"createTime"`
	UpdateTime    Timestamp `json:"updateTime"`
}

// NewIndexRecord creates a record with a fresh random id.
func NewIndexRecord() IndexRecord {
	id := uuid.NewString()
	now := Now()
	return IndexRecord{
		ID:         id,
		FileName:   id,
		Name:       DefaultSessionName,
		CreateTime: now,
		UpdateTime: now,
	}
}

// DetailFile returns the file name of the transcript detail.
func (r IndexRecord) DetailFile() string {
	name := r.FileName
	if name == "" {
		name = r.ID
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return name
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// SessionConfig carries per-session overrides of the global settings.
type SessionConfig struct {
	Model SessionModelConfig `json:"model"`
}

// SessionModelConfig selects the provider for one session.
type SessionModelConfig struct {
	Common SessionCommonConfig `json:"common"`
}

// SessionCommonConfig holds the provider name override.
type SessionCommonConfig struct {
	DefaultModel string `json:"defaultModel,omitempty"`
}

// Transcript is the full, persisted form of a chat session.
//
// A nil Messages slice means the messages were not supplied. An empty,
// non-nil slice is a transcript with no messages.
type Transcript struct {
	IndexRecord
	Messages      []Message      `json:"chatList"`
	SessionConfig *SessionConfig `json:"sessionConfig,omitempty"`
}

// NewTranscript creates an empty transcript with a new index record.
func NewTranscript() *Transcript {
	return &Transcript{
		IndexRecord: NewIndexRecord(),
		Messages:    []Message{},
	}
}

// Index returns the summary record of t.
func (t *Transcript) Index() IndexRecord {
	return t.IndexRecord
}

// Clone returns a deep copy of t.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	c := &Transcript{
		IndexRecord: t.IndexRecord,
		Messages:    CloneMessages(t.Messages),
	}
	if t.SessionConfig != nil {
		sc := *t.SessionConfig
		c.SessionConfig = &sc
	}
	return c
}

// PreferredProvider returns the session's provider override, or "".
func (t *Transcript) PreferredProvider() string {
	if t == nil || t.SessionConfig == nil {
		return ""
	}
	return t.SessionConfig.Model.Common.DefaultModel
}

// =============================================================================
// ORDERING
// =============================================================================

// Sort types accepted by SortIndex.
const (
	SortNormal         = "normal"
	SortCreateTime     = "createTime"
	SortCreateTimeDesc = "createTimeDesc"
)

// SortIndex returns the records of an index in catalog iteration order.
// Ties are broken by id so the order is deterministic.
func SortIndex(index map[string]IndexRecord, sortType string) []IndexRecord {
	records := make([]IndexRecord, 0, len(index))
	for _, r := range index {
		records = append(records, r)
	}

	desc := sortType == SortCreateTimeDesc
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreateTime.Equal(b.CreateTime) {
			if desc {
				return b.CreateTime.Before(a.CreateTime)
			}
			return a.CreateTime.Before(b.CreateTime)
		}
		return a.ID < b.ID
	})
	return records
}
