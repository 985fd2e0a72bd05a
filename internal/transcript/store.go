// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"sync"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
)

// =============================================================================
// STORE
// =============================================================================

// RemoveHook is called after a message was removed with Remove. It receives a
// snapshot of the remaining messages.
type RemoveHook func(remaining []model.Message)

// Mutation describes a change to one message.
type Mutation struct {
	Content string
	Ticks   *int
}

// Store is the only mutator of one transcript's message sequence. Every
// change to a message goes through its handle.
type Store struct {
	mu       sync.Mutex
	messages []model.Message
	index    *PositionIndex
	onRemove RemoveHook
}

// Option configures a Store.
type Option func(*Store)

// WithRemoveHook installs the callback Remove signals after a deletion.
func WithRemoveHook(hook RemoveHook) Option {
	return func(s *Store) {
		s.onRemove = hook
	}
}

// New creates a store over a copy of messages and assigns fresh handles in
// persisted order.
func New(messages []model.Message, opts ...Option) *Store {
	s := &Store{index: NewPositionIndex()}
	for _, opt := range opts {
		opt(s)
	}
	s.reset(messages)
	return s
}

func (s *Store) reset(messages []model.Message) {
	s.messages = model.CloneMessages(messages)
	if s.messages == nil {
		s.messages = []model.Message{}
	}
	s.index.Rebuild(len(s.messages))
	for i := range s.messages {
		s.messages[i].Handle = i
	}
}

// Reset replaces every message and invalidates all previously issued handles.
func (s *Store) Reset(messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(messages)
}

// =============================================================================
// APPEND
// =============================================================================

// Append adds a message with the given role and content and returns its
// handle.
func (s *Store) Append(role model.Role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.NewMessage(role, content)
	h := s.index.Create(len(s.messages))
	msg.Handle = h
	s.messages = append(s.messages, msg)
	return h
}

// AppendUserMessage adds a user turn.
func (s *Store) AppendUserMessage(text string) int {
	return s.Append(model.RoleUser, text)
}

// AppendPlaceholder adds an empty message that a stream will fill in.
func (s *Store) AppendPlaceholder(role model.Role) int {
	return s.Append(role, "")
}

// =============================================================================
// MUTATE
// =============================================================================

// Mutate changes the message behind handle.
//
// In append mode the content is concatenated and ticks are set only if they
// were never set before (to m.Ticks, or 0 when absent). Otherwise content and
// ticks are replaced.
func (s *Store) Mutate(handle int, m Mutation, appendMode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.index.Resolve(handle)
	if err != nil {
		return err
	}
	msg := &s.messages[off]

	if appendMode {
		msg.Content += m.Content
		if msg.Ticks == nil {
			v := 0
			if m.Ticks != nil {
				v = *m.Ticks
			}
			msg.Ticks = &v
		}
		return nil
	}

	msg.Content = m.Content
	if m.Ticks != nil {
		v := *m.Ticks
		msg.Ticks = &v
	} else {
		msg.Ticks = nil
	}
	return nil
}

// SetRole overwrites the role of the message behind handle.
func (s *Store) SetRole(handle int, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.index.Resolve(handle)
	if err != nil {
		return err
	}
	s.messages[off].Role = role
	return nil
}

// =============================================================================
// REMOVE
// =============================================================================

// Remove deletes the message behind handle and then signals the remove hook
// so the owner can persist the change.
func (s *Store) Remove(handle int) error {
	remaining, err := s.remove(handle)
	if err != nil {
		return err
	}
	if s.onRemove != nil {
		s.onRemove(remaining)
	}
	return nil
}

// Discard deletes the message behind handle without signalling the remove
// hook. Callers that persist on their own use it for rollback.
func (s *Store) Discard(handle int) error {
	_, err := s.remove(handle)
	return err
}

func (s *Store) remove(handle int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.index.Resolve(handle)
	if err != nil {
		return nil, err
	}
	s.messages = append(s.messages[:off], s.messages[off+1:]...)
	s.index.Delete(off)

	log.Debug().Int("handle", handle).Int("offset", off).Msg("message removed")
	return model.CloneMessages(s.messages), nil
}

// =============================================================================
// READ
// =============================================================================

// Messages returns a snapshot of every message in order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.messages)
}

// Message returns a copy of the message behind handle.
func (s *Store) Message(handle int) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, err := s.index.Resolve(handle)
	if err != nil {
		return model.Message{}, err
	}
	return s.messages[off].Clone(), nil
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
