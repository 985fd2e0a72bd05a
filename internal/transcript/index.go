// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript owns the in-memory messages of one chat session.
package transcript

import (
	"fmt"

	"github.com/jeranaias/tinychat/internal/status"
)

// PositionIndex maps stable message handles to their current offset in the
// message sequence.
//
// Handles are issued monotonically and never reused until Rebuild. The index
// is not safe for concurrent use; Store guards it.
type PositionIndex struct {
	offsets map[int]int
	next    int
}

// NewPositionIndex returns an empty index.
func NewPositionIndex() *PositionIndex {
	return &PositionIndex{offsets: make(map[int]int)}
}

// Create issues a new handle bound to offset.
func (p *PositionIndex) Create(offset int) int {
	h := p.next
	p.next++
	p.offsets[h] = offset
	return h
}

// Resolve returns the current offset of handle.
func (p *PositionIndex) Resolve(handle int) (int, error) {
	off, ok := p.offsets[handle]
	if !ok {
		return 0, fmt.Errorf("handle %d: %w", handle, status.ErrInvalidHandle)
	}
	return off, nil
}

// Delete drops the handle bound to offset and shifts every later offset down
// by one. It returns the dropped handle, or -1 if none was bound.
func (p *PositionIndex) Delete(offset int) int {
	dropped := -1
	for h, off := range p.offsets {
		switch {
		case off == offset:
			dropped = h
		case off > offset:
			p.offsets[h] = off - 1
		}
	}
	if dropped >= 0 {
		delete(p.offsets, dropped)
	}
	return dropped
}

// Rebuild discards every handle and binds handles 0..n-1 to offsets 0..n-1.
func (p *PositionIndex) Rebuild(n int) {
	p.offsets = make(map[int]int, n)
	for i := 0; i < n; i++ {
		p.offsets[i] = i
	}
	p.next = n
}

// Len returns the number of live handles.
func (p *PositionIndex) Len() int {
	return len(p.offsets)
}
