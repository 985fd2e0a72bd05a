// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify fans change events out to subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/jeranaias/tinychat/internal/model"
)

// EventType names a kind of change.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventSessionUpdated  EventType = "session-updated"
	EventSettingsUpdated EventType = "settings-updated"
)

// subscriberBuffer is the per-subscriber queue depth. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 16

// Event is one broadcast change.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// SessionSnapshot is the payload of EventSessionUpdated: the full index and
// every cached detail after a persistence write, plus which ids changed.
type SessionSnapshot struct {
	Index   map[string]model.IndexRecord `json:"index"`
	Detail  map[string]*model.Transcript `json:"detail"`
	Changed []string                     `json:"changed,omitempty"`
	Deleted []string                     `json:"deleted,omitempty"`
}

// Notifier is anything that accepts events.
type Notifier interface {
	Notify(Event)
}

// Hub manages subscriptions and broadcasts events without blocking the
// publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]*subscriber
	closed      bool
}

type subscriber struct {
	// lagged is nil for subscribers that do not track drops.
	lagged chan struct{}
}

// Subscription is a tracked subscription. Lagged receives a signal,
// coalesced, whenever an event could not be queued; the subscriber is then
// out of date and should resynchronize from the source of truth.
type Subscription struct {
	Events <-chan Event
	Lagged <-chan struct{}
	Cancel func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]*subscriber)}
}

// Subscribe returns a channel of events and the function that ends the
// subscription. Unsubscribing twice is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch, unsubscribe := h.subscribe(subscriberBuffer, &subscriber{})
	return ch, unsubscribe
}

// SubscribeTracked is Subscribe with a queue of buffer events and a signal
// for dropped events. A buffer below the default uses the default.
func (h *Hub) SubscribeTracked(buffer int) Subscription {
	if buffer < subscriberBuffer {
		buffer = subscriberBuffer
	}
	sub := &subscriber{lagged: make(chan struct{}, 1)}
	ch, unsubscribe := h.subscribe(buffer, sub)
	return Subscription{Events: ch, Lagged: sub.lagged, Cancel: unsubscribe}
}

func (h *Hub) subscribe(buffer int, sub *subscriber) (chan Event, func()) {
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subscribers[ch] = sub
	}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Notify broadcasts event to every subscriber. A subscriber whose queue is
// full misses the event; a tracked one is told so through Lagged.
func (h *Hub) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, sub := range h.subscribers {
		select {
		case ch <- event:
		default:
			if sub.lagged != nil {
				select {
				case sub.lagged <- struct{}{}:
				default:
				}
			}
		}
	}
}

// NotifySessionUpdated broadcasts a session snapshot.
func (h *Hub) NotifySessionUpdated(snap SessionSnapshot) {
	h.Notify(Event{Type: EventSessionUpdated, Data: snap})
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Later subscribers receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan Event]*subscriber)
}
