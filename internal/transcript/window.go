// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"fmt"

	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/util"
)

// Overflow behaviours.
const (
	FailFast = "failFast"
	FailSafe = "failSafe"
)

// Truncation granularities for FailSafe.
const (
	Block     = "block"
	Character = "character"
)

// Policy bounds the conversation sent to a provider.
type Policy struct {
	// Limit is the character budget.
	Limit int
	// Behavior is FailFast or FailSafe.
	Behavior string
	// Granularity is Block or Character.
	Granularity string
}

// ComputeContextWindow returns the most recent messages that fit p, with
// system messages removed.
func (s *Store) ComputeContextWindow(p Policy) ([]model.Message, error) {
	return ContextWindow(s.Messages(), p)
}

// ContextWindow computes the context window of msgs under p. msgs is not
// modified.
//
// Messages are scanned newest first while a running total of their lengths
// grows. System messages count toward the total but never stop the scan. The
// first other message that pushes the total past the limit is the cut point:
// FailFast reports ErrContextOverflow, FailSafe keeps the messages from the
// cut point on, dropping the cut message (Block, unless it is the only one
// left) or keeping only its trailing characters that fit the budget
// (Character).
func ContextWindow(msgs []model.Message, p Policy) ([]model.Message, error) {
	total := 0
	cut := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		total += msgs[i].Length()
		if msgs[i].Role == model.RoleSystem {
			continue
		}
		if total > p.Limit {
			cut = i
			break
		}
	}

	if cut < 0 {
		return withoutSystem(msgs, 0), nil
	}

	if p.Behavior != FailSafe {
		return nil, fmt.Errorf("%d characters over a limit of %d: %w", total, p.Limit, status.ErrContextOverflow)
	}

	window := withoutSystem(msgs, cut)
	if len(window) == 0 {
		return window, nil
	}

	if p.Granularity == Character {
		// Characters already committed after the cut message.
		after := total - msgs[cut].Length()
		budget := p.Limit - after
		if budget < 0 {
			budget = 0
		}
		window[0].Content = util.TailRunes(window[0].Content, budget)
		return window, nil
	}

	if len(msgs)-cut > 1 {
		return withoutSystem(msgs, cut+1), nil
	}
	return window, nil
}

// withoutSystem copies msgs[from:] without system messages.
func withoutSystem(msgs []model.Message, from int) []model.Message {
	out := make([]model.Message, 0, len(msgs)-from)
	for _, m := range msgs[from:] {
		if m.Role == model.RoleSystem {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}
