// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/notify"
)

// indexerBuffer is the indexer's event queue depth. Snapshots carry every
// cached detail, so the queue is kept deeper than a plain subscriber's.
const indexerBuffer = 256

// Subscriber hands out tracked event subscriptions. *notify.Hub implements it.
type Subscriber interface {
	SubscribeTracked(buffer int) notify.Subscription
}

// Indexer applies session-updated events to an Index. When events were
// dropped it rebuilds the index from its source.
type Indexer struct {
	idx    *Index
	src    Source
	logger zerolog.Logger
}

// NewIndexer creates an indexer for idx. src is used to catch up after
// dropped events; with a nil src the index stays stale until the next
// rebuild.
func NewIndexer(idx *Index, src Source) *Indexer {
	return &Indexer{idx: idx, src: src, logger: log.With("search")}
}

// Run consumes events from hub until ctx is done or the hub closes.
func (ix *Indexer) Run(ctx context.Context, hub Subscriber) {
	sub := hub.SubscribeTracked(indexerBuffer)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Lagged:
			if !ix.resync(ctx, sub.Events) {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.Type != notify.EventSessionUpdated {
				continue
			}
			snap, ok := ev.Data.(notify.SessionSnapshot)
			if !ok {
				continue
			}
			ix.Apply(ctx, snap)
		}
	}
}

// resync discards queued events, which are older than the source, and
// rebuilds from the source. It reports false once events is closed.
func (ix *Indexer) resync(ctx context.Context, events <-chan notify.Event) bool {
	open := true
drain:
	for {
		select {
		case _, ok := <-events:
			if !ok {
				open = false
				break drain
			}
		default:
			break drain
		}
	}

	if ix.src == nil {
		ix.logger.Warn().Msg("search index missed session events")
		return open
	}
	if err := ix.idx.Rebuild(ctx, ix.src); err != nil {
		ix.logger.Warn().Err(err).Msg("search index resync failed")
	} else {
		ix.logger.Info().Msg("search index resynced after missed events")
	}
	return open
}

// Apply brings the index in line with snap. Sessions whose detail is not in
// the snapshot only get their name refreshed.
func (ix *Indexer) Apply(ctx context.Context, snap notify.SessionSnapshot) {
	for _, id := range snap.Deleted {
		if err := ix.idx.Remove(ctx, id); err != nil {
			ix.logger.Warn().Err(err).Str("session", id).Msg("could not drop session from search index")
		}
	}

	for _, id := range snap.Changed {
		if t, ok := snap.Detail[id]; ok && t != nil {
			if err := ix.idx.IndexTranscript(ctx, t); err != nil {
				ix.logger.Warn().Err(err).Str("session", id).Msg("could not index session")
			}
			continue
		}
		if rec, ok := snap.Index[id]; ok {
			if err := ix.idx.UpdateSession(ctx, rec); err != nil {
				ix.logger.Warn().Err(err).Str("session", id).Msg("could not update session in search index")
			}
		}
	}
}
