// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "time"

// =============================================================================
// SYNC STATUS
// =============================================================================

// State tells whether the in-memory transcript matches what is on disk.
type State string

const (
	StateSync   State = "sync"
	StateUnsync State = "unsync"
	StateUnload State = "unload"
	StateError  State = "error"
)

// SubStatus names a long-running operation in progress on a session.
type SubStatus string

const (
	SubNone            SubStatus = ""
	SubGeneratingTitle SubStatus = "generating-title"
	SubGeneratingChat  SubStatus = "generating-chat"
)

// SyncStatus is one recorded state of a session. It is never persisted.
type SyncStatus struct {
	State     State     `json:"status"`
	SubStatus SubStatus `json:"subStatus,omitempty"`
	LoadedAt  time.Time `json:"loadedAt"`
	Err       error     `json:"-"`
}

// ErrMessage returns the retained failure as text, or "".
func (s SyncStatus) ErrMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// historySize bounds the number of statuses kept per session.
const historySize = 8

// history is a ring of the most recent statuses of one session.
type history struct {
	buf  [historySize]SyncStatus
	next int
	n    int
}

func newHistory(initial State) *history {
	h := &history{}
	h.push(SyncStatus{State: initial, LoadedAt: time.Now()})
	return h
}

func (h *history) push(s SyncStatus) {
	h.buf[h.next] = s
	h.next = (h.next + 1) % historySize
	if h.n < historySize {
		h.n++
	}
}

func (h *history) current() SyncStatus {
	if h.n == 0 {
		return SyncStatus{}
	}
	return h.buf[(h.next-1+historySize)%historySize]
}

// set records a new state and keeps the current sub-status.
func (h *history) set(state State, err error) {
	cur := h.current()
	h.push(SyncStatus{State: state, SubStatus: cur.SubStatus, LoadedAt: time.Now(), Err: err})
}

// setSub records a new sub-status and keeps the current state.
func (h *history) setSub(sub SubStatus) {
	cur := h.current()
	h.push(SyncStatus{State: cur.State, SubStatus: sub, LoadedAt: time.Now(), Err: cur.Err})
}

// list returns the statuses oldest first.
func (h *history) list() []SyncStatus {
	out := make([]SyncStatus, 0, h.n)
	start := (h.next - h.n + historySize) % historySize
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(start+i)%historySize])
	}
	return out
}
