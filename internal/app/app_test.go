// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/search"
	"github.com/jeranaias/tinychat/internal/session"
)

func TestNew_CreatesFirstSession(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Options{ConfigDir: dir, SearchPath: search.MemoryPath})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, a.Catalog.Len())
	require.NotNil(t, a.Catalog.Active())
	assert.FileExists(t, config.SettingPath(dir))
	assert.NotNil(t, a.Search)
	require.NotNil(t, a.Usage)
	assert.DirExists(t, filepath.Join(dir, UsageDirName))
}

func TestNew_DisableSearch(t *testing.T) {
	a, err := New(Options{ConfigDir: t.TempDir(), DisableSearch: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Search)
	assert.NotNil(t, a.NewServer("", ""))
}

func TestNew_IndexesExistingAndNewMessages(t *testing.T) {
	dir := t.TempDir()

	first, err := New(Options{ConfigDir: dir, DisableSearch: true})
	require.NoError(t, err)
	id := first.Catalog.Active().ID
	_, err = first.Catalog.SyncSessionInfo(id, nil, []model.Message{model.NewMessage(model.RoleUser, "written before start")})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	a, err := New(Options{ConfigDir: dir})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Search)
	assert.FileExists(t, filepath.Join(dir, SearchFileName))

	ctx := context.Background()
	hits, err := a.Search.Search(ctx, "before start", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].SessionID)

	store, err := a.Catalog.Store(id)
	require.NoError(t, err)
	store.AppendUserMessage("added while running")
	require.NoError(t, a.Catalog.SyncTranscript(id))

	assert.Eventually(t, func() bool {
		hits, err := a.Search.Search(ctx, "while running", 10)
		return err == nil && len(hits) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_SortFollowsSettings(t *testing.T) {
	a, err := New(Options{ConfigDir: t.TempDir(), DisableSearch: true})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Catalog.CreateSession()
	require.NoError(t, err)

	normal := a.Catalog.Index()
	_, err = a.Settings.Update(func(s *config.Settings) { s.Session.SortType = model.SortCreateTimeDesc })
	require.NoError(t, err)
	desc := a.Catalog.Index()

	require.Len(t, desc, 2)
	assert.ElementsMatch(t, normal, desc)
	assert.Equal(t, model.SortIndex(indexOf(normal), model.SortCreateTimeDesc), desc)
}

func indexOf(records []model.IndexRecord) map[string]model.IndexRecord {
	out := make(map[string]model.IndexRecord, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out
}

func TestNew_WatchSettings(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Options{ConfigDir: dir, DisableSearch: true, WatchSettings: true})
	require.NoError(t, err)
	defer a.Close()

	s := a.Settings.Get()
	s.Session.AutoTitleGenerate = config.TitleEveryTime
	require.NoError(t, writeSettingsFile(config.SettingPath(dir), s))

	assert.Eventually(t, func() bool {
		return a.Settings.Get().Session.AutoTitleGenerate == config.TitleEveryTime
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(Options{ConfigDir: t.TempDir(), SearchPath: search.MemoryPath, WatchSettings: true})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, ok := a.Catalog.Status(a.Catalog.Active().ID)
	assert.True(t, ok)
	st, _ := a.Catalog.Status(a.Catalog.Active().ID)
	assert.Equal(t, session.StateSync, st.State)
}

func TestNew_UnusableConfigDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := New(Options{ConfigDir: filepath.Join(file, "sub")})
	assert.Error(t, err)
}

func writeSettingsFile(path string, s config.Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
