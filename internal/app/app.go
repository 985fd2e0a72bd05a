// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the tinychat components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/notify"
	"github.com/jeranaias/tinychat/internal/provider"
	"github.com/jeranaias/tinychat/internal/search"
	"github.com/jeranaias/tinychat/internal/server"
	"github.com/jeranaias/tinychat/internal/session"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/storage"
	"github.com/jeranaias/tinychat/internal/telemetry"
)

// SearchFileName is the search database inside the configuration directory.
const SearchFileName = "search.db"

// UsageDirName holds the daily usage buckets inside the configuration
// directory.
const UsageDirName = "usage"

// settingsDebounce delays reloads after external edits of the settings file.
const settingsDebounce = 200 * time.Millisecond

// Options configures New.
type Options struct {
	// ConfigDir overrides the configuration directory. Empty selects
	// config.ConfigDir().
	ConfigDir string

	// SearchPath overrides the search database. Empty selects
	// <ConfigDir>/search.db; search.MemoryPath keeps it in memory.
	SearchPath string

	// DisableSearch skips the search index entirely.
	DisableSearch bool

	// WatchSettings reloads settings when the file changes on disk.
	WatchSettings bool

	// Doer sends provider requests. Nil selects the shared streaming client.
	Doer provider.Doer
}

// App holds every long-lived component. Fields are set by New and must not
// be replaced.
type App struct {
	Dir       string
	Hub       *notify.Hub
	Settings  *config.Store
	Sessions  *storage.SessionStore
	Catalog   *session.Catalog
	Registry  *provider.Registry
	Responder *provider.Responder

	// Search is nil when disabled or when the database could not be opened.
	Search *search.Index

	// Usage is nil when the usage directory could not be created.
	Usage *telemetry.UsageTracker

	watcher   *config.Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds an App. A degraded session index or an unavailable search
// database is logged and tolerated; other failures are returned.
func New(opts Options) (*App, error) {
	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = config.ConfigDir(); err != nil {
			return nil, fmt.Errorf("resolve config directory: %w", err)
		}
	}
	if err := config.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Dir: dir, Hub: notify.NewHub(), cancel: cancel}

	a.Settings = config.NewStore(dir, a.Hub)
	if _, err := a.Settings.Load(); err != nil {
		log.Warn().Err(err).Str("path", a.Settings.Path()).Msg("settings reset to defaults")
	}

	a.Sessions = storage.NewSessionStore(storage.SessionDir(dir), a.Hub)
	a.Catalog = session.NewCatalog(a.Sessions, func() string {
		return a.Settings.Get().Session.SortType
	})
	if err := a.Catalog.Initialize(); err != nil && !errors.Is(err, status.ErrPersistenceUnavailable) {
		a.Close()
		return nil, err
	}

	a.Registry = provider.NewRegistry(opts.Doer)
	a.Responder = provider.NewResponder(a.Catalog, a.Settings, a.Registry, opts.Doer)
	if usage, err := telemetry.NewUsageTracker(filepath.Join(dir, UsageDirName)); err != nil {
		log.Warn().Err(err).Msg("usage tracking disabled")
	} else {
		a.Usage = usage
		a.Responder.WithUsage(usage)
	}

	if !opts.DisableSearch {
		a.startSearch(ctx, opts.SearchPath)
	}

	if opts.WatchSettings {
		if err := a.startWatcher(); err != nil {
			log.Warn().Err(err).Msg("settings watcher unavailable")
		}
	}

	log.Debug().Str("dir", dir).Bool("search", a.Search != nil).Msg("app ready")
	return a, nil
}

func (a *App) startSearch(ctx context.Context, path string) {
	if path == "" {
		path = filepath.Join(a.Dir, SearchFileName)
	}
	idx, err := search.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("search disabled")
		return
	}
	if err := idx.Rebuild(ctx, a.Sessions); err != nil {
		log.Warn().Err(err).Msg("search index rebuild failed")
	}
	a.Search = idx

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		search.NewIndexer(idx, a.Sessions).Run(ctx, a.Hub)
	}()
}

func (a *App) startWatcher() error {
	w, err := config.NewWatcher(a.Settings, settingsDebounce)
	if err != nil {
		return err
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	return nil
}

// NewServer returns an HTTP server over the app's components. A non-empty
// token requires bearer authentication.
func (a *App) NewServer(addr, token string) *server.Server {
	srv := server.NewServer(addr, a.Catalog, a.Responder, a.Settings, a.Hub).
		WithAuth(server.TokenAuthConfig(token))
	if a.Search != nil {
		srv.WithSearch(a.Search)
	}
	if a.Usage != nil {
		srv.WithUsage(a.Usage)
	}
	return srv
}

// Close waits for background title generation, then stops the indexer, the
// watcher and the hub. Calling Close more than once is safe.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.Responder != nil {
			a.Responder.Wait()
		}
		a.cancel()
		a.wg.Wait()

		if a.watcher != nil {
			err = errors.Join(err, a.watcher.Close())
		}
		if a.Search != nil {
			err = errors.Join(err, a.Search.Close())
		}
		a.Hub.Close()
	})
	return err
}
