// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/tinychat/internal/log"
)

// DefaultWatchDebounce is how long the settings file must be quiet before a
// reload.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher reloads a Store when its settings file is edited outside the
// process.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for store. Call Watch to start it.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:    store,
		watcher:  fw,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Watch starts watching the directory of the settings file. Editors often
// replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Watch() error {
	dir := filepath.Dir(w.store.Path())
	if err := EnsureDir(dir); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("settings watcher error")

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if !due {
				continue
			}
			changed, err := w.store.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("settings reload failed, keeping previous settings")
				continue
			}
			if changed {
				log.Info().Str("path", target).Msg("settings reloaded")
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
	return err
}
