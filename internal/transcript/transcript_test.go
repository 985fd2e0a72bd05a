// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
)

// =============================================================================
// POSITION INDEX TESTS
// =============================================================================

func TestPositionIndex_CreateIsMonotonic(t *testing.T) {
	p := NewPositionIndex()
	a := p.Create(0)
	b := p.Create(1)
	p.Delete(0)
	c := p.Create(1)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, c, "handles are never reused before Rebuild")
}

func TestPositionIndex_ResolveOffsetZero(t *testing.T) {
	p := NewPositionIndex()
	h := p.Create(0)

	off, err := p.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
}

func TestPositionIndex_DeleteShiftsLaterOffsets(t *testing.T) {
	p := NewPositionIndex()
	p.Rebuild(4)

	dropped := p.Delete(1)
	assert.Equal(t, 1, dropped)

	_, err := p.Resolve(1)
	assert.True(t, errors.Is(err, status.ErrInvalidHandle))

	for h, want := range map[int]int{0: 0, 2: 1, 3: 2} {
		off, err := p.Resolve(h)
		require.NoError(t, err)
		assert.Equal(t, want, off, "handle %d", h)
	}
	assert.Equal(t, 3, p.Len())
}

func TestPositionIndex_RebuildInvalidatesOldHandles(t *testing.T) {
	p := NewPositionIndex()
	p.Rebuild(2)
	h := p.Create(2)
	assert.Equal(t, 2, h)

	p.Rebuild(1)
	_, err := p.Resolve(h)
	assert.ErrorIs(t, err, status.ErrInvalidHandle)
	assert.Equal(t, 1, p.Create(1))
}

// =============================================================================
// STORE TESTS
// =============================================================================

func msgs(pairs ...string) []model.Message {
	var out []model.Message
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.Message{Role: model.Role(pairs[i]), Content: pairs[i+1]})
	}
	return out
}

func TestStore_NewAssignsHandlesInOrder(t *testing.T) {
	s := New(msgs("user", "a", "assistant", "b"))

	got := s.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Handle)
	assert.Equal(t, 1, got[1].Handle)

	h := s.AppendUserMessage("c")
	assert.Equal(t, 2, h)
}

func TestStore_HandleSurvivesEarlierDeletion(t *testing.T) {
	s := New(nil)
	first := s.AppendUserMessage("q1")
	second := s.AppendPlaceholder(model.RoleAssistant)
	third := s.AppendUserMessage("q2")

	require.NoError(t, s.Remove(first))
	require.NoError(t, s.Mutate(third, Mutation{Content: "q2 edited"}, false))
	require.NoError(t, s.Mutate(second, Mutation{Content: "answer"}, true))

	got := s.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "answer", got[0].Content)
	assert.Equal(t, "q2 edited", got[1].Content)
}

func TestStore_MutateAppendSetsTicksOnce(t *testing.T) {
	s := New(nil)
	h := s.AppendPlaceholder(model.RoleAssistant)

	seven := 7
	require.NoError(t, s.Mutate(h, Mutation{Content: "a"}, true))
	require.NoError(t, s.Mutate(h, Mutation{Content: "b", Ticks: &seven}, true))

	m, err := s.Message(h)
	require.NoError(t, err)
	assert.Equal(t, "ab", m.Content)
	require.NotNil(t, m.Ticks)
	assert.Equal(t, 0, *m.Ticks, "ticks are only set by the first append")
}

func TestStore_MutateReplaceOverwrites(t *testing.T) {
	s := New(nil)
	h := s.AppendUserMessage("draft")
	five := 5

	require.NoError(t, s.Mutate(h, Mutation{Content: "final", Ticks: &five}, false))
	m, _ := s.Message(h)
	assert.Equal(t, "final", m.Content)
	assert.Equal(t, 5, *m.Ticks)

	require.NoError(t, s.Mutate(h, Mutation{Content: "again"}, false))
	m, _ = s.Message(h)
	assert.Nil(t, m.Ticks)
}

func TestStore_InvalidHandle(t *testing.T) {
	s := New(nil)
	h := s.AppendUserMessage("x")
	require.NoError(t, s.Discard(h))

	assert.ErrorIs(t, s.Mutate(h, Mutation{Content: "y"}, true), status.ErrInvalidHandle)
	assert.ErrorIs(t, s.Remove(h), status.ErrInvalidHandle)
	assert.ErrorIs(t, s.SetRole(h, model.RoleUser), status.ErrInvalidHandle)
	assert.ErrorIs(t, s.Mutate(99, Mutation{}, false), status.ErrInvalidHandle)
}

func TestStore_RemoveSignalsHookDiscardDoesNot(t *testing.T) {
	var calls [][]model.Message
	s := New(msgs("user", "a", "user", "b", "user", "c"), WithRemoveHook(func(rest []model.Message) {
		calls = append(calls, rest)
	}))

	require.NoError(t, s.Discard(0))
	assert.Empty(t, calls)

	require.NoError(t, s.Remove(1))
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, "c", calls[0][0].Content)
}

func TestStore_ResetInvalidatesHandles(t *testing.T) {
	s := New(nil)
	h := s.AppendUserMessage("a")
	s.AppendUserMessage("b")

	s.Reset(msgs("user", "x"))
	_, err := s.Message(1)
	assert.ErrorIs(t, err, status.ErrInvalidHandle)

	m, err := s.Message(h)
	require.NoError(t, err)
	assert.Equal(t, "x", m.Content)
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := New(msgs("user", "a"))
	snap := s.Messages()
	snap[0].Content = "changed"

	m, _ := s.Message(0)
	assert.Equal(t, "a", m.Content)
}

func TestStore_ConcurrentAppendAndMutate(t *testing.T) {
	s := New(nil)
	h := s.AppendPlaceholder(model.RoleAssistant)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Mutate(h, Mutation{Content: "x"}, true)
		}()
		go func() {
			defer wg.Done()
			s.AppendUserMessage("u")
		}()
	}
	wg.Wait()

	m, err := s.Message(h)
	require.NoError(t, err)
	assert.Len(t, m.Content, 50)
	assert.Equal(t, 51, s.Len())
}

// =============================================================================
// CONTEXT WINDOW TESTS
// =============================================================================

func TestContextWindow_FitsReturnsAllWithoutSystem(t *testing.T) {
	in := msgs("system", "sys", "user", "hello", "assistant", "hi")

	got, err := ContextWindow(in, Policy{Limit: 100, Behavior: FailFast, Granularity: Block})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.RoleUser, got[0].Role)
}

func TestContextWindow_FailFastBoundary(t *testing.T) {
	atLimit := msgs("user", strings.Repeat("a", 50), "assistant", strings.Repeat("b", 50))
	_, err := ContextWindow(atLimit, Policy{Limit: 100, Behavior: FailFast})
	assert.NoError(t, err, "exactly at the limit fits")

	overLimit := msgs("user", strings.Repeat("a", 51), "assistant", strings.Repeat("b", 50))
	_, err = ContextWindow(overLimit, Policy{Limit: 100, Behavior: FailFast})
	assert.ErrorIs(t, err, status.ErrContextOverflow)
}

func TestContextWindow_FailSafeBlockDropsCutMessage(t *testing.T) {
	in := msgs("user", "aaaa", "assistant", "bbbb", "user", "cccc")

	got, err := ContextWindow(in, Policy{Limit: 6, Behavior: FailSafe, Granularity: Block})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cccc", got[0].Content)
}

func TestContextWindow_FailSafeBlockKeepsSoleMessage(t *testing.T) {
	in := msgs("user", strings.Repeat("z", 20))

	got, err := ContextWindow(in, Policy{Limit: 5, Behavior: FailSafe, Granularity: Block})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Content, 20)
}

func TestContextWindow_FailSafeCharacterKeepsTrailingChars(t *testing.T) {
	in := msgs("user", "0123456789", "assistant", "abcd")

	got, err := ContextWindow(in, Policy{Limit: 7, Behavior: FailSafe, Granularity: Character})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "789", got[0].Content)
	assert.Equal(t, "abcd", got[1].Content)

	assert.Equal(t, "0123456789", in[0].Content, "input must not be modified")
}

func TestContextWindow_SystemMessagesCountButNeverCut(t *testing.T) {
	in := msgs("user", "abc", "system", strings.Repeat("s", 10), "user", "de")

	_, err := ContextWindow(in, Policy{Limit: 11, Behavior: FailFast})
	assert.ErrorIs(t, err, status.ErrContextOverflow, "system text still counts toward the total")

	got, err := ContextWindow(in, Policy{Limit: 12, Behavior: FailSafe, Granularity: Block})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "de", got[0].Content)
}

func TestContextWindow_CountsCharactersNotBytes(t *testing.T) {
	in := msgs("user", "你好世界")

	got, err := ContextWindow(in, Policy{Limit: 4, Behavior: FailFast})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_ComputeContextWindowUsesSnapshot(t *testing.T) {
	s := New(msgs("user", "0123456789"))

	got, err := s.ComputeContextWindow(Policy{Limit: 3, Behavior: FailSafe, Granularity: Character})
	require.NoError(t, err)
	assert.Equal(t, "789", got[0].Content)

	m, _ := s.Message(0)
	assert.Equal(t, "0123456789", m.Content)
}
