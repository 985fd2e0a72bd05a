// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the session index and transcript details.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/notify"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// IndexFileName is the session index inside the session directory.
	IndexFileName = "index.json"

	// FailedID is returned by SaveIndexEntry when nothing could be written.
	FailedID = "-1"

	filePerm = 0644
	dirPerm  = 0755
)

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore owns <configDir>/session: index.json plus one <id>.json detail
// file per transcript. The index and the details are read-through caches, and
// every completed write broadcasts a snapshot to the notifier.
//
// A SessionStore is the single writer of its directory.
type SessionStore struct {
	dir      string
	notifier notify.Notifier

	mu       sync.Mutex
	index    map[string]model.IndexRecord
	details  map[string]*model.Transcript
	degraded bool
}

// NewSessionStore creates a store rooted at dir. The notifier may be nil.
func NewSessionStore(dir string, notifier notify.Notifier) *SessionStore {
	return &SessionStore{
		dir:      dir,
		notifier: notifier,
		details:  make(map[string]*model.Transcript),
	}
}

// SessionDir returns the session directory under a config directory.
func SessionDir(configDir string) string {
	return filepath.Join(configDir, "session")
}

// Dir returns the directory the store writes to.
func (s *SessionStore) Dir() string {
	return s.dir
}

// Degraded reports whether the index could not be read and was replaced with
// an empty one.
func (s *SessionStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// =============================================================================
// INDEX
// =============================================================================

// ListIndex returns a copy of the session index, reading index.json on first
// use.
//
// A missing file is created empty. An unreadable or corrupt file is moved
// aside to index.json.bak and replaced with an empty index; the empty index is
// still returned, together with an error wrapping
// status.ErrPersistenceUnavailable.
func (s *SessionStore) ListIndex() (map[string]model.IndexRecord, error) {
	s.mu.Lock()
	err := s.ensureIndexLocked()
	out := copyIndex(s.index)
	s.mu.Unlock()
	return out, err
}

func (s *SessionStore) ensureIndexLocked() error {
	if s.index != nil {
		return nil
	}

	path := s.indexPath()
	index := make(map[string]model.IndexRecord)
	err := util.ReadJSONFile(path, &index)
	if err == nil {
		s.index = index
		return nil
	}

	s.index = make(map[string]model.IndexRecord)
	if errors.Is(err, os.ErrNotExist) {
		if werr := s.writeIndexLocked(); werr != nil {
			s.degraded = true
			return status.Wrap(status.E20008, "create session index", fmt.Errorf("%w: %v", status.ErrPersistenceUnavailable, werr))
		}
		return nil
	}

	s.degraded = true
	log.Error().Err(err).Str("path", path).Msg("session index unreadable, starting empty")
	if rerr := os.Rename(path, path+".bak"); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		log.Warn().Err(rerr).Str("path", path).Msg("could not move unreadable index aside")
	}
	if werr := s.writeIndexLocked(); werr != nil {
		log.Error().Err(werr).Str("path", path).Msg("could not recreate session index")
	}
	return status.Wrap(status.E20008, "read session index", fmt.Errorf("%w: %v", status.ErrPersistenceUnavailable, err))
}

// =============================================================================
// SAVE
// =============================================================================

// SaveIndexEntry creates or updates a session and returns its id.
//
// A nil transcript creates a new, empty session; both its record and its
// detail file are written. Otherwise the index record is updated from t, and
// the detail file is rewritten only when t.Messages is non-nil. An update
// without messages leaves the detail file untouched.
//
// On any write failure FailedID is returned with an error wrapping
// status.ErrPersistenceUnavailable. The in-memory caches keep the new state
// so a later save can retry.
func (s *SessionStore) SaveIndexEntry(t *model.Transcript) (string, error) {
	s.mu.Lock()
	// A degraded index is still usable as an empty index.
	_ = s.ensureIndexLocked()

	var (
		id          string
		writeDetail bool
	)

	if t == nil {
		created := model.NewTranscript()
		id = created.ID
		s.index[id] = created.IndexRecord
		s.details[id] = created
		writeDetail = true
	} else {
		if t.ID == "" {
			t = t.Clone()
			rec := model.NewIndexRecord()
			rec.Name = t.Name
			if rec.Name == "" {
				rec.Name = model.DefaultSessionName
			}
			rec.NameGenerated = t.NameGenerated
			t.IndexRecord = rec
		}
		if !validID(t.ID) {
			s.mu.Unlock()
			return FailedID, status.Wrap(status.E20005, "save session", fmt.Errorf("invalid session id %q", t.ID))
		}

		id = t.ID
		rec := s.mergeRecordLocked(t.IndexRecord)
		s.index[id] = rec

		// nil Messages is an index-only update. An empty non-nil slice
		// replaces the transcript, which is how deleting the last message
		// reaches disk. See "nil vs empty messages" in DESIGN.md.
		if t.Messages != nil {
			detail := t.Clone()
			detail.IndexRecord = rec
			if detail.SessionConfig == nil {
				if prev, ok := s.details[id]; ok && prev.SessionConfig != nil {
					detail.SessionConfig = prev.Clone().SessionConfig
				}
			}
			s.details[id] = detail
			writeDetail = true
		} else if cached, ok := s.details[id]; ok {
			cached.IndexRecord = rec
		}
	}

	var err error
	if writeDetail {
		err = s.writeDetailLocked(id)
	}
	if err == nil {
		err = s.writeIndexLocked()
	}
	snap := s.snapshotLocked([]string{id}, nil)
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("session save failed")
		return FailedID, status.Wrap(status.E20008, "save session", fmt.Errorf("%w: %v", status.ErrPersistenceUnavailable, err))
	}

	s.publish(snap)
	return id, nil
}

// mergeRecordLocked combines an incoming record with the cached one. Creation
// time and file name are kept from the cache; the update time is refreshed.
func (s *SessionStore) mergeRecordLocked(in model.IndexRecord) model.IndexRecord {
	rec := in
	if prev, ok := s.index[in.ID]; ok {
		if !prev.CreateTime.IsZero() {
			rec.CreateTime = prev.CreateTime
		}
		if rec.FileName == "" {
			rec.FileName = prev.FileName
		}
	}
	if rec.FileName == "" || !validID(strings.TrimSuffix(rec.FileName, ".json")) {
		rec.FileName = rec.ID
	}
	if rec.Name == "" {
		rec.Name = model.DefaultSessionName
	}
	now := model.Now()
	if rec.CreateTime.IsZero() {
		rec.CreateTime = now
	}
	rec.UpdateTime = now
	return rec
}

// =============================================================================
// LOAD
// =============================================================================

// LoadDetail returns a copy of the transcript for id. The second result is
// false when no index record or detail file exists; I/O and decode failures
// are logged and reported the same way.
func (s *SessionStore) LoadDetail(id string) (*model.Transcript, bool) {
	if !validID(id) {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.details[id]; ok {
		return t.Clone(), true
	}

	_ = s.ensureIndexLocked()
	rec, ok := s.index[id]
	if !ok {
		rec = model.IndexRecord{ID: id, FileName: id}
	}

	var t model.Transcript
	path := filepath.Join(s.dir, rec.DetailFile())
	if err := util.ReadJSONFile(path, &t); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("session", id).Msg("session detail unreadable")
		}
		return nil, false
	}

	if ok {
		// The index is authoritative for summary fields.
		t.IndexRecord = rec
	}
	if t.ID == "" {
		t.ID = id
	}
	if t.Messages == nil {
		t.Messages = []model.Message{}
	}
	s.details[id] = &t
	return t.Clone(), true
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteSession removes the index record and the detail file of id. Both
// removals are attempted even if one fails. The result reports whether an
// index record existed.
func (s *SessionStore) DeleteSession(id string) (bool, error) {
	if !validID(id) {
		return false, status.Wrap(status.E20005, "delete session", fmt.Errorf("invalid session id %q", id))
	}

	s.mu.Lock()
	_ = s.ensureIndexLocked()

	rec, existed := s.index[id]
	if !existed {
		rec = model.IndexRecord{ID: id, FileName: id}
	}
	delete(s.index, id)
	delete(s.details, id)

	var errs []error
	if err := s.writeIndexLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(filepath.Join(s.dir, rec.DetailFile())); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	snap := s.snapshotLocked(nil, []string{id})
	s.mu.Unlock()

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error().Err(err).Str("session", id).Msg("session delete incomplete")
		return existed, status.Wrap(status.E20004, "delete session", fmt.Errorf("%w: %v", status.ErrPersistenceUnavailable, err))
	}

	s.publish(snap)
	return existed, nil
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot returns copies of the index and every cached detail.
func (s *SessionStore) Snapshot() notify.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(nil, nil)
}

// Details returns copies of every transcript in the index, loading detail
// files as needed, sorted by creation time. Unreadable sessions are skipped.
func (s *SessionStore) Details() []*model.Transcript {
	index, _ := s.ListIndex()
	records := model.SortIndex(index, model.SortNormal)

	out := make([]*model.Transcript, 0, len(records))
	for _, rec := range records {
		if t, ok := s.LoadDetail(rec.ID); ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *SessionStore) snapshotLocked(changed, deleted []string) notify.SessionSnapshot {
	detail := make(map[string]*model.Transcript, len(s.details))
	for id, t := range s.details {
		detail[id] = t.Clone()
	}
	return notify.SessionSnapshot{
		Index:   copyIndex(s.index),
		Detail:  detail,
		Changed: changed,
		Deleted: deleted,
	}
}

func (s *SessionStore) publish(snap notify.SessionSnapshot) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Event{Type: notify.EventSessionUpdated, Data: snap})
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.dir, IndexFileName)
}

func (s *SessionStore) writeIndexLocked() error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return err
	}
	return util.WriteJSONFile(s.indexPath(), s.index, filePerm)
}

func (s *SessionStore) writeDetailLocked(id string) error {
	t, ok := s.details[id]
	if !ok {
		return fmt.Errorf("no cached detail for %s", id)
	}
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return err
	}
	return util.WriteJSONFile(filepath.Join(s.dir, t.DetailFile()), t, filePerm)
}

func copyIndex(in map[string]model.IndexRecord) map[string]model.IndexRecord {
	out := make(map[string]model.IndexRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// validID rejects ids that could escape the session directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." || id == FailedID {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

