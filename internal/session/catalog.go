// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/transcript"
)

// =============================================================================
// TYPES
// =============================================================================

// Persistence is the storage the catalog drives. storage.SessionStore
// implements it.
type Persistence interface {
	ListIndex() (map[string]model.IndexRecord, error)
	SaveIndexEntry(t *model.Transcript) (string, error)
	LoadDetail(id string) (*model.Transcript, bool)
	DeleteSession(id string) (bool, error)
}

// Transcript is a resident session: its summary fields plus the store that
// owns its messages. Values returned by the catalog are copies of the
// summary fields; the Store is shared.
type Transcript struct {
	model.IndexRecord
	SessionConfig *model.SessionConfig
	Store         *transcript.Store
}

// Persisted returns the transcript in its on-disk form.
func (t *Transcript) Persisted() *model.Transcript {
	out := &model.Transcript{IndexRecord: t.IndexRecord, Messages: []model.Message{}}
	if t.Store != nil {
		out.Messages = t.Store.Messages()
	}
	if t.SessionConfig != nil {
		sc := *t.SessionConfig
		out.SessionConfig = &sc
	}
	return out
}

// PreferredProvider returns the session's provider override, or "".
func (t *Transcript) PreferredProvider() string {
	if t == nil || t.SessionConfig == nil {
		return ""
	}
	return t.SessionConfig.Model.Common.DefaultModel
}

// SessionPatch carries the summary fields to merge in SyncSessionInfo. Nil
// fields are left unchanged.
type SessionPatch struct {
	Name          *string
	NameGenerated *bool
}

// Entry is one row of the ordered session listing.
type Entry struct {
	model.IndexRecord
	Status    State     `json:"status"`
	SubStatus SubStatus `json:"subStatus,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog tracks every session, the active one and their sync status.
type Catalog struct {
	persist  Persistence
	sortType func() string

	mu       sync.Mutex
	index    map[string]model.IndexRecord
	resident map[string]*Transcript
	statuses map[string]*history
	active   string
}

// NewCatalog creates an empty catalog over persist. sortType supplies the
// current session order and may be nil for creation order.
func NewCatalog(persist Persistence, sortType func() string) *Catalog {
	if sortType == nil {
		sortType = func() string { return model.SortNormal }
	}
	return &Catalog{
		persist:  persist,
		sortType: sortType,
		index:    make(map[string]model.IndexRecord),
		resident: make(map[string]*Transcript),
		statuses: make(map[string]*history),
	}
}

// Initialize loads the index and activates the first session in order that
// loads. Sessions whose detail cannot be loaded are marked StateError and
// skipped; they report status.ErrSessionNotFound when accessed. A session is
// created when none loads.
//
// A degraded index or an unwritable session directory still leaves the
// catalog usable with one active session; the returned error then wraps
// status.ErrPersistenceUnavailable.
func (c *Catalog) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, listErr := c.persist.ListIndex()
	if listErr != nil {
		log.Warn().Err(listErr).Msg("session index degraded")
	}

	c.index = index
	if c.index == nil {
		c.index = make(map[string]model.IndexRecord)
	}
	c.resident = make(map[string]*Transcript)
	c.statuses = make(map[string]*history, len(c.index))
	c.active = ""

	for id := range c.index {
		c.statuses[id] = newHistory(StateUnload)
	}

	var broken int
	for _, rec := range c.orderedLocked() {
		if _, err := c.loadLocked(rec.ID, true); err == nil {
			break
		}
		broken++
		log.Warn().Str("session", rec.ID).Msg("session detail missing, skipped")
	}

	if c.active == "" {
		t, err := c.createActiveLocked()
		if t == nil {
			return err
		}
		if err != nil {
			listErr = errors.Join(listErr, err)
		}
	}

	log.Info().Int("sessions", len(c.index)).Int("broken", broken).Str("active", c.active).Msg("session catalog initialized")
	return listErr
}

// =============================================================================
// CREATE / LOAD
// =============================================================================

// CreateSession persists a new empty session, loads it and makes it active.
//
// When persistence is unavailable the session still exists in memory, marked
// unsync with the failure in its status history; it is returned together
// with an E20003 error wrapping status.ErrPersistenceUnavailable.
func (c *Catalog) CreateSession() (*Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.createActiveLocked()
}

// createActiveLocked creates a session and activates it. The transcript is
// nil only when no session could be created.
func (c *Catalog) createActiveLocked() (*Transcript, error) {
	id, err := c.createLocked()
	if id == "" {
		return nil, err
	}
	t, lerr := c.loadLocked(id, true)
	if lerr != nil {
		return nil, lerr
	}
	return t, err
}

// createLocked registers a new empty session and returns its id. A non-empty
// id with an error means the session lives in memory only.
func (c *Catalog) createLocked() (string, error) {
	created := model.NewTranscript()
	id, err := c.persist.SaveIndexEntry(created)
	if err == nil {
		rec := created.IndexRecord
		if index, lerr := c.persist.ListIndex(); lerr == nil {
			if r, ok := index[id]; ok {
				rec = r
			}
		}
		c.index[id] = rec
		c.statuses[id] = newHistory(StateUnload)
		log.Debug().Str("session", id).Msg("session created")
		return id, nil
	}

	wrapped := status.Wrap(status.E20003, "create session", err)
	if !errors.Is(err, status.ErrPersistenceUnavailable) {
		return "", wrapped
	}

	id = created.ID
	c.index[id] = created.IndexRecord
	c.residentLocked(id, created)
	h := newHistory(StateUnload)
	h.set(StateUnsync, err)
	c.statuses[id] = h
	log.Warn().Err(err).Str("session", id).Msg("session created in memory only")
	return id, wrapped
}

// LoadSession returns the session id, loading it from persistence if it is
// not resident, and makes it active.
func (c *Catalog) LoadSession(id string) (*Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(id, true)
}

// Session returns the session id like LoadSession without changing the
// active session.
func (c *Catalog) Session(id string) (*Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(id, false)
}

// Store returns the message store of session id.
func (c *Catalog) Store(id string) (*transcript.Store, error) {
	t, err := c.Session(id)
	if err != nil {
		return nil, err
	}
	return t.Store, nil
}

func (c *Catalog) loadLocked(id string, activate bool) (*Transcript, error) {
	if t, ok := c.resident[id]; ok {
		if activate {
			c.active = id
		}
		return t.copy(), nil
	}

	detail, ok := c.persist.LoadDetail(id)
	if !ok {
		if h, known := c.statuses[id]; known {
			h.set(StateError, status.ErrSessionNotFound)
		}
		return nil, status.Wrap(status.E20006, "load session", fmt.Errorf("%s: %w", id, status.ErrSessionNotFound))
	}

	rec, known := c.index[id]
	if !known {
		rec = detail.IndexRecord
		c.index[id] = rec
	}

	detail.IndexRecord = rec
	t := c.residentLocked(id, detail)

	h, ok := c.statuses[id]
	if !ok {
		h = newHistory(StateUnload)
		c.statuses[id] = h
	}
	h.set(StateSync, nil)

	if activate {
		c.active = id
	}
	log.Debug().Str("session", id).Int("messages", t.Store.Len()).Msg("session loaded")
	return t.copy(), nil
}

// residentLocked makes detail the resident session id. Removing a message
// from its store persists the transcript.
func (c *Catalog) residentLocked(id string, detail *model.Transcript) *Transcript {
	t := &Transcript{IndexRecord: detail.IndexRecord, SessionConfig: detail.SessionConfig}
	t.Store = transcript.New(detail.Messages, transcript.WithRemoveHook(func([]model.Message) {
		if err := c.SyncTranscript(id); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("sync after message removal failed")
		}
	}))
	c.resident[id] = t
	return t
}

func (t *Transcript) copy() *Transcript {
	cp := *t
	if t.SessionConfig != nil {
		sc := *t.SessionConfig
		cp.SessionConfig = &sc
	}
	return &cp
}

// =============================================================================
// SYNC
// =============================================================================

// SyncSessionInfo merges patch into session id, replaces its messages when
// messages is non-nil, and persists the result. Replacing messages
// invalidates every handle of a resident store.
//
// The session is marked unsync before the write and sync after it. A failed
// write leaves it unsync with the failure retained in its status history and
// returns an error wrapping status.ErrSyncFailed.
func (c *Catalog) SyncSessionInfo(id string, patch *SessionPatch, messages []model.Message) (*Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.resident[id]; ok && messages != nil {
		t.Store.Reset(messages)
	}
	return c.syncLocked(id, patch, messages)
}

// SyncTranscript persists the current messages of resident session id.
func (c *Catalog) SyncTranscript(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.resident[id]
	if !ok {
		return status.Wrap(status.E20006, "sync transcript", fmt.Errorf("%s is not loaded: %w", id, status.ErrSessionNotFound))
	}
	_, err := c.syncLocked(id, nil, t.Store.Messages())
	return err
}

func (c *Catalog) syncLocked(id string, patch *SessionPatch, messages []model.Message) (*Transcript, error) {
	rec, ok := c.index[id]
	if !ok {
		return nil, status.Wrap(status.E20006, "sync session", fmt.Errorf("%s: %w", id, status.ErrSessionNotFound))
	}
	if patch != nil {
		if patch.Name != nil {
			rec.Name = *patch.Name
		}
		if patch.NameGenerated != nil {
			rec.NameGenerated = *patch.NameGenerated
		}
	}

	h := c.statuses[id]
	if h == nil {
		h = newHistory(StateUnload)
		c.statuses[id] = h
	}
	h.set(StateUnsync, nil)

	payload := &model.Transcript{IndexRecord: rec, Messages: model.CloneMessages(messages)}
	t := c.resident[id]
	if t != nil {
		t.IndexRecord = rec
		payload.SessionConfig = t.SessionConfig
	}
	c.index[id] = rec

	if _, err := c.persist.SaveIndexEntry(payload); err != nil {
		h.set(StateUnsync, err)
		log.Error().Err(err).Str("session", id).Msg("session sync failed")
		return c.viewLocked(id), status.Wrap(status.E20007, "sync session", fmt.Errorf("%w: %w", status.ErrSyncFailed, err))
	}

	if index, err := c.persist.ListIndex(); err == nil {
		if saved, ok := index[id]; ok {
			c.index[id] = saved
			if t != nil {
				t.IndexRecord = saved
			}
		}
	}
	h.set(StateSync, nil)
	return c.viewLocked(id), nil
}

// viewLocked returns the resident session or a summary-only view.
func (c *Catalog) viewLocked(id string) *Transcript {
	if t, ok := c.resident[id]; ok {
		return t.copy()
	}
	return &Transcript{IndexRecord: c.index[id]}
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteSessionInfo deletes session id. Deleting the last session creates
// and loads a replacement so the catalog is never empty. Deleting the active
// session activates the one before it in order, or the first one.
func (c *Catalog) DeleteSessionInfo(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := c.orderedLocked()
	pos := -1
	for i, r := range ordered {
		if r.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return status.Wrap(status.E20006, "delete session", fmt.Errorf("%s: %w", id, status.ErrSessionNotFound))
	}

	existed, err := c.persist.DeleteSession(id)
	if err != nil {
		if !existed {
			return status.Wrap(status.E20004, "delete session", err)
		}
		// The record is gone; a leftover detail file is not repaired.
		log.Warn().Err(err).Str("session", id).Msg("session partially deleted")
	}

	delete(c.index, id)
	delete(c.resident, id)
	delete(c.statuses, id)
	wasActive := c.active == id
	if wasActive {
		c.active = ""
	}
	log.Debug().Str("session", id).Msg("session deleted")

	if len(ordered) == 1 {
		_, err := c.createActiveLocked()
		return err
	}

	if wasActive {
		remaining := append(ordered[:pos:pos], ordered[pos+1:]...)
		next := pos - 1
		if next < 0 {
			next = 0
		}
		// Prefer the previous session; skip any whose detail is gone.
		candidates := append([]model.IndexRecord{remaining[next]}, remaining...)
		for _, r := range candidates {
			if _, err := c.loadLocked(r.ID, true); err == nil {
				return nil
			}
		}
		_, err := c.createActiveLocked()
		return err
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// PrepareSessionSyncStatus marks sub as in flight on session id. It fails
// with status.ErrOperationInProgress when another operation is in flight and
// allowInterrupt is false.
func (c *Catalog) PrepareSessionSyncStatus(id string, sub SubStatus, allowInterrupt bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.statuses[id]
	if !ok {
		return status.Wrap(status.E20006, "prepare session", fmt.Errorf("%s: %w", id, status.ErrSessionNotFound))
	}
	if cur := h.current().SubStatus; cur != SubNone && !allowInterrupt {
		return status.Wrap(status.E20009, string(sub), fmt.Errorf("%s is %s: %w", id, cur, status.ErrOperationInProgress))
	}
	h.setSub(sub)
	return nil
}

// FinishOperation clears the in-flight operation of session id.
func (c *Catalog) FinishOperation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.statuses[id]; ok && h.current().SubStatus != SubNone {
		h.setSub(SubNone)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Active returns the active session, or nil before Initialize.
func (c *Catalog) Active() *Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.resident[c.active]; ok {
		return t.copy()
	}
	return nil
}

// SetActive loads session id if needed and makes it active.
func (c *Catalog) SetActive(id string) error {
	_, err := c.LoadSession(id)
	return err
}

// Index returns every session record in the configured order.
func (c *Catalog) Index() []model.IndexRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderedLocked()
}

// Entries returns the ordered listing with each session's current status.
func (c *Catalog) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := c.orderedLocked()
	out := make([]Entry, 0, len(ordered))
	for _, r := range ordered {
		e := Entry{IndexRecord: r, Status: StateUnload}
		if h, ok := c.statuses[r.ID]; ok {
			cur := h.current()
			e.Status, e.SubStatus = cur.State, cur.SubStatus
		}
		out = append(out, e)
	}
	return out
}

// Lookup returns the index record of id.
func (c *Catalog) Lookup(id string) (model.IndexRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.index[id]
	return r, ok
}

// Status returns the current sync status of session id.
func (c *Catalog) Status(id string) (SyncStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.statuses[id]
	if !ok {
		return SyncStatus{}, false
	}
	return h.current(), true
}

// StatusHistory returns the recent statuses of session id, oldest first.
func (c *Catalog) StatusHistory(id string) []SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.statuses[id]; ok {
		return h.list()
	}
	return nil
}

// Len returns the number of sessions.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Catalog) orderedLocked() []model.IndexRecord {
	return model.SortIndex(c.index, c.sortType())
}

// IsNotFound reports whether err means a session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, status.ErrSessionNotFound)
}
