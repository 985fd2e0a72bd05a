// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts and messages.
package model

import (
	"time"
	"unicode/utf8"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one turn of a transcript.
//
// Handle is the stable identity assigned by the transcript's position index.
// It is persisted but reassigned whenever a transcript is loaded.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Date    Timestamp `json:"date"`

	// Ticks is the optional streaming sequence counter. Nil means unset.
	Ticks *int `json:"ticks,omitempty"`

	Handle int `json:"id"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:    role,
		Content: content,
		Date:    Now(),
	}
}

// Length is the message size in characters, the unit the context window
// budget is counted in.
func (m Message) Length() int {
	return utf8.RuneCountInString(m.Content)
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	c := m
	if m.Ticks != nil {
		t := *m.Ticks
		c.Ticks = &t
	}
	return c
}

// CloneMessages deep-copies a message slice, preserving nil.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Age returns how long ago the message was created.
func (m Message) Age() time.Duration {
	return time.Since(m.Date.Time())
}
