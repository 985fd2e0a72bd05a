// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/storage"
)

// memPersistence keeps sessions in memory with predictable ids and creation
// times.
type memPersistence struct {
	mu       sync.Mutex
	index    map[string]model.IndexRecord
	details  map[string]*model.Transcript
	seq      int
	failSave bool
}

func newMemPersistence() *memPersistence {
	return &memPersistence{
		index:   make(map[string]model.IndexRecord),
		details: make(map[string]*model.Transcript),
	}
}

func (m *memPersistence) add(name string, messages ...model.Message) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("s%d", m.seq)
	rec := model.IndexRecord{ID: id, FileName: id, Name: name, CreateTime: model.FromMillis(int64(m.seq) * 1000)}
	if messages == nil {
		messages = []model.Message{}
	}
	m.index[id] = rec
	m.details[id] = &model.Transcript{IndexRecord: rec, Messages: messages}
	return id
}

func (m *memPersistence) ListIndex() (map[string]model.IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.IndexRecord, len(m.index))
	for k, v := range m.index {
		out[k] = v
	}
	return out, nil
}

func (m *memPersistence) SaveIndexEntry(t *model.Transcript) (string, error) {
	if t == nil {
		m.mu.Lock()
		fail := m.failSave
		m.mu.Unlock()
		if fail {
			return storage.FailedID, fmt.Errorf("disk full: %w", status.ErrPersistenceUnavailable)
		}
		return m.add(model.DefaultSessionName), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return storage.FailedID, fmt.Errorf("disk full: %w", status.ErrPersistenceUnavailable)
	}
	rec := t.IndexRecord
	if prev, ok := m.index[t.ID]; ok {
		rec.CreateTime = prev.CreateTime
	}
	m.index[t.ID] = rec
	if t.Messages != nil {
		d := t.Clone()
		d.IndexRecord = rec
		m.details[t.ID] = d
	} else if d, ok := m.details[t.ID]; ok {
		d.IndexRecord = rec
	}
	return t.ID, nil
}

func (m *memPersistence) LoadDetail(id string) (*model.Transcript, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (m *memPersistence) DeleteSession(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.index[id]
	delete(m.index, id)
	delete(m.details, id)
	return existed, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func (m *memPersistence) messages(id string) []model.Message {
	d, ok := m.LoadDetail(id)
	if !ok {
		return nil
	}
	return d.Messages
}

// =============================================================================
// INITIALIZE TESTS
// =============================================================================

func TestInitialize_EmptyCreatesSession(t *testing.T) {
	p := newMemPersistence()
	c := NewCatalog(p, nil)

	require.NoError(t, c.Initialize())
	assert.Equal(t, 1, c.Len())

	active := c.Active()
	require.NotNil(t, active)
	assert.Equal(t, model.DefaultSessionName, active.Name)

	st, ok := c.Status(active.ID)
	require.True(t, ok)
	assert.Equal(t, StateSync, st.State)
}

func TestInitialize_ActivatesFirstInOrder(t *testing.T) {
	p := newMemPersistence()
	first := p.add("first")
	second := p.add("second")

	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())
	assert.Equal(t, first, c.Active().ID)

	st, _ := c.Status(second)
	assert.Equal(t, StateUnload, st.State)

	desc := NewCatalog(p, func() string { return model.SortCreateTimeDesc })
	require.NoError(t, desc.Initialize())
	assert.Equal(t, second, desc.Active().ID)
}

func TestInitialize_DegradedIndexStillUsable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	store := storage.NewSessionStore(dir, nil)
	require.NoError(t, writeFile(filepath.Join(dir, storage.IndexFileName), "{broken"))

	c := NewCatalog(store, nil)
	err := c.Initialize()
	assert.ErrorIs(t, err, status.ErrPersistenceUnavailable)
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Active())
}

func TestInitialize_SkipsSessionWithoutDetail(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	require.NoError(t, writeFile(filepath.Join(dir, storage.IndexFileName), `{
		"a1": {"id": "a1", "fileName": "a1", "name": "dangling", "createTime": 1000, "updateTime": 1000},
		"b2": {"id": "b2", "fileName": "b2", "name": "intact", "createTime": 2000, "updateTime": 2000}
	}`))
	require.NoError(t, writeFile(filepath.Join(dir, "b2.json"),
		`{"id": "b2", "fileName": "b2", "name": "intact", "createTime": 2000, "updateTime": 2000, "chatList": []}`))

	c := NewCatalog(storage.NewSessionStore(dir, nil), nil)
	require.NoError(t, c.Initialize())
	assert.Equal(t, 2, c.Len())
	require.NotNil(t, c.Active())
	assert.Equal(t, "b2", c.Active().ID)

	st, _ := c.Status("a1")
	assert.Equal(t, StateError, st.State)
	_, err := c.Session("a1")
	assert.Equal(t, status.E20006, status.CodeOf(err))

	require.NoError(t, c.DeleteSessionInfo("a1"))
	assert.Equal(t, 1, c.Len())
}

func TestInitialize_CreatesWhenNoSessionLoads(t *testing.T) {
	p := newMemPersistence()
	p.add("gone")
	p.mu.Lock()
	delete(p.details, "s1")
	p.mu.Unlock()

	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())
	assert.Equal(t, 2, c.Len())
	active := c.Active()
	require.NotNil(t, active)
	assert.NotEqual(t, "s1", active.ID)
}

func TestInitialize_UnwritableDirectoryKeepsSessionInMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	store := storage.NewSessionStore(filepath.Join(blocker, "session"), nil)

	c := NewCatalog(store, nil)
	err := c.Initialize()
	assert.ErrorIs(t, err, status.ErrPersistenceUnavailable)
	assert.Equal(t, 1, c.Len())

	active := c.Active()
	require.NotNil(t, active)
	st, ok := c.Status(active.ID)
	require.True(t, ok)
	assert.Equal(t, StateUnsync, st.State)
	assert.ErrorIs(t, st.Err, status.ErrPersistenceUnavailable)

	active.Store.AppendUserMessage("still usable")
	assert.Equal(t, 1, active.Store.Len())

	created, err := c.CreateSession()
	require.NotNil(t, created)
	assert.Equal(t, status.E20003, status.CodeOf(err))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, created.ID, c.Active().ID)
}

// =============================================================================
// CREATE / LOAD TESTS
// =============================================================================

func TestCreateSession_Activates(t *testing.T) {
	p := newMemPersistence()
	p.add("existing")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	created, err := c.CreateSession()
	require.NoError(t, err)
	assert.Equal(t, created.ID, c.Active().ID)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 0, created.Store.Len())
}

func TestCreateSession_FailureReportsCode(t *testing.T) {
	p := newMemPersistence()
	p.add("existing")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	p.failSave = true
	created, err := c.CreateSession()
	require.Error(t, err)
	assert.Equal(t, status.E20003, status.CodeOf(err))

	require.NotNil(t, created, "the session is kept in memory")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, created.ID, c.Active().ID)
	st, _ := c.Status(created.ID)
	assert.Equal(t, StateUnsync, st.State)

	p.failSave = false
	_, err = c.SyncSessionInfo(created.ID, nil, []model.Message{})
	require.NoError(t, err)
	assert.NotNil(t, p.messages(created.ID), "a later sync writes it")
}

func TestLoadSession_UsesResidentStore(t *testing.T) {
	p := newMemPersistence()
	a := p.add("a", model.NewMessage(model.RoleUser, "hi"))
	b := p.add("b")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	first, err := c.LoadSession(a)
	require.NoError(t, err)
	first.Store.AppendUserMessage("unsaved")

	_, err = c.LoadSession(b)
	require.NoError(t, err)
	assert.Equal(t, b, c.Active().ID)

	again, err := c.LoadSession(a)
	require.NoError(t, err)
	assert.Same(t, first.Store, again.Store)
	assert.Equal(t, 2, again.Store.Len())
}

func TestLoadSession_MissingMarksError(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a")
	p.add("b")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	p.mu.Lock()
	delete(p.details, "s2")
	p.mu.Unlock()

	_, err := c.LoadSession("s2")
	assert.True(t, IsNotFound(err))
	st, _ := c.Status("s2")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, id, c.Active().ID, "a failed load keeps the active session")

	_, err = c.LoadSession("nope")
	assert.Equal(t, status.E20006, status.CodeOf(err))
}

func TestSession_DoesNotActivate(t *testing.T) {
	p := newMemPersistence()
	a := p.add("a")
	b := p.add("b")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	got, err := c.Session(b)
	require.NoError(t, err)
	assert.Equal(t, b, got.ID)
	assert.Equal(t, a, c.Active().ID)
}

// =============================================================================
// SYNC TESTS
// =============================================================================

func TestSyncSessionInfo_PatchAndMessages(t *testing.T) {
	p := newMemPersistence()
	id := p.add("old")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	name := "Trip planning"
	generated := true
	msgs := []model.Message{model.NewMessage(model.RoleUser, "where to?")}

	got, err := c.SyncSessionInfo(id, &SessionPatch{Name: &name, NameGenerated: &generated}, msgs)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.True(t, got.NameGenerated)
	assert.Equal(t, 1, got.Store.Len())

	rec, _ := c.Lookup(id)
	assert.Equal(t, name, rec.Name)
	assert.Len(t, p.messages(id), 1)

	st, _ := c.Status(id)
	assert.Equal(t, StateSync, st.State)
}

func TestSyncSessionInfo_NilMessagesIsIndexOnly(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a", model.NewMessage(model.RoleUser, "keep me"))
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	name := "renamed"
	_, err := c.SyncSessionInfo(id, &SessionPatch{Name: &name}, nil)
	require.NoError(t, err)

	assert.Len(t, p.messages(id), 1)
	assert.Equal(t, 1, c.Active().Store.Len())
}

func TestSyncSessionInfo_FailureRetainsError(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	p.failSave = true
	_, err := c.SyncSessionInfo(id, nil, []model.Message{})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrSyncFailed)
	assert.ErrorIs(t, err, status.ErrPersistenceUnavailable)

	st, _ := c.Status(id)
	assert.Equal(t, StateUnsync, st.State)
	assert.Error(t, st.Err)

	p.failSave = false
	require.NoError(t, c.SyncTranscript(id))
	st, _ = c.Status(id)
	assert.Equal(t, StateSync, st.State)
	assert.NoError(t, st.Err)
}

func TestSyncTranscript_KeepsHandles(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	store, err := c.Store(id)
	require.NoError(t, err)
	h := store.AppendPlaceholder(model.RoleAssistant)

	require.NoError(t, c.SyncTranscript(id))
	_, err = store.Message(h)
	assert.NoError(t, err, "syncing must not invalidate live handles")
	assert.Len(t, p.messages(id), 1)
}

func TestRemove_PersistsThroughCatalog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	store := storage.NewSessionStore(dir, nil)
	c := NewCatalog(store, nil)
	require.NoError(t, c.Initialize())

	active := c.Active()
	a := active.Store.AppendUserMessage("one")
	active.Store.AppendUserMessage("two")
	require.NoError(t, c.SyncTranscript(active.ID))

	require.NoError(t, active.Store.Remove(a))

	detail, ok := storage.NewSessionStore(dir, nil).LoadDetail(active.ID)
	require.True(t, ok)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "two", detail.Messages[0].Content)
}

// =============================================================================
// DELETE TESTS
// =============================================================================

func TestDeleteSessionInfo_LastCreatesReplacement(t *testing.T) {
	p := newMemPersistence()
	id := p.add("only")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	require.NoError(t, c.DeleteSessionInfo(id))
	assert.Equal(t, 1, c.Len())

	active := c.Active()
	require.NotNil(t, active)
	assert.NotEqual(t, id, active.ID)
	_, ok := c.Lookup(id)
	assert.False(t, ok)
}

func TestDeleteSessionInfo_ActivatesPrevious(t *testing.T) {
	p := newMemPersistence()
	a := p.add("a")
	b := p.add("b")
	cID := p.add("c")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	require.NoError(t, c.SetActive(cID))
	require.NoError(t, c.DeleteSessionInfo(cID))
	assert.Equal(t, b, c.Active().ID)

	require.NoError(t, c.SetActive(a))
	require.NoError(t, c.DeleteSessionInfo(a))
	assert.Equal(t, b, c.Active().ID, "deleting the first activates the new first")
}

func TestDeleteSessionInfo_InactiveKeepsActive(t *testing.T) {
	p := newMemPersistence()
	a := p.add("a")
	b := p.add("b")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	require.NoError(t, c.DeleteSessionInfo(b))
	assert.Equal(t, a, c.Active().ID)
	assert.Equal(t, 1, c.Len())

	err := c.DeleteSessionInfo("missing")
	assert.True(t, IsNotFound(err))
}

// =============================================================================
// OPERATION GUARD TESTS
// =============================================================================

func TestPrepareSessionSyncStatus(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	require.NoError(t, c.PrepareSessionSyncStatus(id, SubGeneratingTitle, false))

	err := c.PrepareSessionSyncStatus(id, SubGeneratingTitle, false)
	assert.True(t, errors.Is(err, status.ErrOperationInProgress))
	assert.Equal(t, status.E20009, status.CodeOf(err))

	require.NoError(t, c.PrepareSessionSyncStatus(id, SubGeneratingChat, true))
	st, _ := c.Status(id)
	assert.Equal(t, SubGeneratingChat, st.SubStatus)

	// Syncing keeps the operation marker.
	require.NoError(t, c.SyncTranscript(id))
	st, _ = c.Status(id)
	assert.Equal(t, SubGeneratingChat, st.SubStatus)
	assert.Equal(t, StateSync, st.State)

	c.FinishOperation(id)
	require.NoError(t, c.PrepareSessionSyncStatus(id, SubGeneratingChat, false))
}

func TestStatusHistoryIsBounded(t *testing.T) {
	p := newMemPersistence()
	id := p.add("a")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	for i := 0; i < 20; i++ {
		require.NoError(t, c.SyncTranscript(id))
	}

	hist := c.StatusHistory(id)
	assert.Len(t, hist, historySize)
	assert.Equal(t, StateSync, hist[len(hist)-1].State)
	assert.Equal(t, StateUnsync, hist[len(hist)-2].State)
}

func TestEntriesCarryStatus(t *testing.T) {
	p := newMemPersistence()
	a := p.add("a")
	b := p.add("b")
	c := NewCatalog(p, nil)
	require.NoError(t, c.Initialize())

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, a, entries[0].ID)
	assert.Equal(t, StateSync, entries[0].Status)
	assert.Equal(t, b, entries[1].ID)
	assert.Equal(t, StateUnload, entries[1].Status)
}
