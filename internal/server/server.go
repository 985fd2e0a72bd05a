// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/export"
	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/notify"
	"github.com/jeranaias/tinychat/internal/provider"
	"github.com/jeranaias/tinychat/internal/search"
	"github.com/jeranaias/tinychat/internal/session"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address. The server is meant for
	// the local machine only.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (4MB).
	MaxRequestBodySize = 4 * 1024 * 1024

	// MaxSearchResults caps the limit query parameter of /api/search.
	MaxSearchResults = 200

	// MaxUsageDays caps the days query parameter of /api/usage.
	MaxUsageDays = 365

	// heartbeatInterval keeps idle event streams open through proxies.
	heartbeatInterval = 30 * time.Second

	// Version is the server version.
	Version = "0.1.0"
)

// SettingsStore is the settings persistence the server reads and writes.
// *config.Store implements it.
type SettingsStore interface {
	Get() config.Settings
	Set(next config.Settings) (config.Settings, error)
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the session catalog, the responder and the settings over
// HTTP/JSON. Every JSON response is a status.Result envelope.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server
	logger zerolog.Logger
	start  time.Time

	catalog   *session.Catalog
	responder *provider.Responder
	settings  SettingsStore
	hub       *notify.Hub
	index     *search.Index
	usage     *telemetry.UsageTracker
	auth      *AuthConfig
	limiter   *RateLimiter

	mu sync.RWMutex
}

// NewServer creates a Server listening on addr. An empty addr selects
// DefaultAddr.
func NewServer(addr string, catalog *session.Catalog, responder *provider.Responder, settings SettingsStore, hub *notify.Hub) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:      addr,
		router:    http.NewServeMux(),
		logger:    log.With("server"),
		start:     time.Now(),
		catalog:   catalog,
		responder: responder,
		settings:  settings,
		hub:       hub,
		auth:      DefaultAuthConfig(),
		limiter:   DefaultRateLimiter(),
	}

	s.setupRoutes()
	return s
}

// WithSearch enables /api/search over idx.
func (s *Server) WithSearch(idx *search.Index) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = idx
	return s
}

// WithUsage enables /api/usage over tracker.
func (s *Server) WithUsage(tracker *telemetry.UsageTracker) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = tracker
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = config
	return s
}

// WithRateLimiter replaces the per-IP limiter. Nil disables rate limiting.
func (s *Server) WithRateLimiter(limiter *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = limiter
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	// Sessions
	s.router.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.router.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("PUT /api/sessions/{id}", s.handleUpdateSession)
	s.router.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.router.HandleFunc("GET /api/sessions/{id}/status", s.handleSessionStatus)
	s.router.HandleFunc("DELETE /api/sessions/{id}/messages/{handle}", s.handleRemoveMessage)
	s.router.HandleFunc("POST /api/sessions/{id}/reply", s.handleReply)
	s.router.HandleFunc("POST /api/sessions/{id}/title", s.handleTitle)
	s.router.HandleFunc("GET /api/sessions/{id}/export", s.handleExport)

	s.router.HandleFunc("GET /api/search", s.handleSearch)
	s.router.HandleFunc("GET /api/usage", s.handleUsage)

	// Settings
	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/settings", s.handlePutSettings)

	s.router.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter),
		AuthMiddleware(s.auth, s.logger),
	)(s.router)
}

// ============================================================================
// VIEWS
// ============================================================================

type sessionList struct {
	Sessions []session.Entry `json:"sessions"`
	Active   string          `json:"active"`
}

type sessionView struct {
	*model.Transcript
	Status    session.State     `json:"status"`
	SubStatus session.SubStatus `json:"subStatus,omitempty"`
}

type updateSessionRequest struct {
	Name          *string         `json:"name"`
	NameGenerated *bool           `json:"nameGenerate"`
	Messages      []model.Message `json:"chatList"`
}

type replyRequest struct {
	Question string `json:"question"`
}

type progressEvent struct {
	First bool   `json:"first"`
	Delta string `json:"delta"`
}

type titleView struct {
	Title string `json:"title"`
}

type healthView struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) listView() sessionList {
	out := sessionList{Sessions: s.catalog.Entries()}
	if a := s.catalog.Active(); a != nil {
		out.Active = a.ID
	}
	return out
}

func (s *Server) viewOf(t *session.Transcript) sessionView {
	v := sessionView{Transcript: t.Persisted()}
	if st, ok := s.catalog.Status(t.ID); ok {
		v.Status = st.State
		v.SubStatus = st.SubStatus
	}
	return v
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeResult(w, status.OK(healthView{
		Status:   "ok",
		Version:  Version,
		Sessions: s.catalog.Len(),
		Uptime:   time.Since(s.start).Round(time.Second).String(),
	}))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeResult(w, status.OK(s.listView()))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	t, err := s.catalog.CreateSession()
	if t == nil {
		writeFailure(w, err)
		return
	}
	// A session kept in memory only is still returned, flagged by its code.
	writeResult(w, status.Warn(s.viewOf(t), err))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	t, err := s.catalog.LoadSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(s.viewOf(t)))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	patch := &session.SessionPatch{Name: req.Name, NameGenerated: req.NameGenerated}
	t, err := s.catalog.SyncSessionInfo(r.PathValue("id"), patch, req.Messages)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(s.viewOf(t)))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteSessionInfo(r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(s.listView()))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.catalog.Lookup(id); !ok {
		writeFailure(w, status.Wrap(status.E20006, "session status", status.ErrSessionNotFound))
		return
	}
	writeResult(w, status.OK(s.catalog.StatusHistory(id)))
}

// handleExport answers the session as a document. The format query
// parameter selects it and defaults to markdown.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	exp, err := export.ForFormat(format, nil)
	if err != nil {
		writeFailure(w, status.Wrap(status.E20005, "export", err))
		return
	}

	t, err := s.catalog.Session(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	persisted := t.Persisted()
	body, err := exp.Export(persisted)
	if errors.Is(err, export.ErrEmptyTranscript) {
		writeFailure(w, status.Wrap(status.E10001, "export", status.ErrNoContent))
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", exp.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(persisted, exp)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleRemoveMessage(w http.ResponseWriter, r *http.Request) {
	handle, err := strconv.Atoi(r.PathValue("handle"))
	if err != nil {
		writeFailure(w, status.Wrap(status.E20011, "remove message", status.ErrInvalidHandle))
		return
	}
	store, err := s.catalog.Store(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := store.Remove(handle); err != nil {
		writeFailure(w, status.Wrap(status.E20011, "remove message", err))
		return
	}
	writeResult(w, status.OK(store.Messages()))
}

// handleReply streams the reply as SSE: progress events while content
// arrives, then one done or error event. Failures before the reply starts
// are answered as plain JSON, and so is the whole reply when the writer
// cannot stream.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	id := r.PathValue("id")
	var (
		stream   *sseStream
		noStream bool
		gone     bool
	)
	err := s.responder.StreamReply(r.Context(), id, req.Question, func(first bool, delta string) {
		if noStream || gone {
			return
		}
		if stream == nil {
			// startSSE writes nothing when it fails.
			var serr error
			if stream, serr = startSSE(w); serr != nil {
				noStream = true
				s.logger.Warn().Err(serr).Msg("could not start reply stream, answering with JSON")
				return
			}
		}
		if err := stream.send("progress", progressEvent{First: first, Delta: delta}); err != nil {
			gone = true
			s.logger.Debug().Err(err).Msg("reply client went away")
		}
	})

	if stream == nil {
		if err != nil {
			writeFailure(w, err)
			return
		}
		t, lerr := s.catalog.Session(id)
		if lerr != nil {
			writeFailure(w, lerr)
			return
		}
		writeResult(w, status.OK(s.viewOf(t)))
		return
	}

	if err != nil {
		stream.send("error", status.Fail[any](err))
		return
	}
	t, err := s.catalog.Session(id)
	if err != nil {
		stream.send("error", status.Fail[any](err))
		return
	}
	stream.send("done", status.OK(s.viewOf(t)))
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.responder.RefreshTitle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(titleView{Title: title}))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()
	if idx == nil {
		writeFailure(w, status.Wrap(status.E20005, "search", status.ErrUnsupportedOperation))
		return
	}

	limit := search.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFailure(w, status.Wrap(status.E20005, "search", fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = min(n, MaxSearchResults)
	}

	hits, err := idx.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(hits))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	tracker := s.usage
	s.mu.RUnlock()
	if tracker == nil {
		writeFailure(w, status.Wrap(status.E20005, "usage", status.ErrUnsupportedOperation))
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFailure(w, status.Wrap(status.E20005, "usage", fmt.Errorf("invalid days %q", v)))
			return
		}
		days = min(n, MaxUsageDays)
	}
	writeResult(w, status.OK(tracker.Trends(days)))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeResult(w, status.OK(s.settings.Get().Redacted()))
}

// handlePutSettings merges the body over the current settings. Credentials
// sent back in their redacted form keep their stored value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	current := s.settings.Get()
	next := current
	if err := decodeBody(w, r, &next); err != nil {
		writeFailure(w, err)
		return
	}

	saved, err := s.settings.Set(next.WithSecretsFrom(current))
	if err != nil {
		var verr config.ValidateErrors
		if errors.As(err, &verr) {
			err = status.Wrap(status.E20005, "set settings", err)
		}
		writeFailure(w, err)
		return
	}
	writeResult(w, status.OK(saved.Redacted()))
}

// handleEvents relays hub events as SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeFailure(w, status.Wrap(status.E20005, "events", status.ErrUnsupportedOperation))
		return
	}

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	stream, err := startSSE(w)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := stream.send(string(notify.EventConnected), notify.Event{Type: notify.EventConnected, Timestamp: time.Now().UnixMilli()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(string(ev.Type), ev); err != nil {
				return
			}
		}
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: replies and events are long-lived streams.
		IdleTimeout: 120 * time.Second,
		ErrorLog:    log.StdErrorLogger(),
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("server started")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeResult[T any](w http.ResponseWriter, res status.Result[T]) {
	writeJSON(w, http.StatusOK, res)
}

// writeFailure answers err as a failed envelope with a matching HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	res := status.Fail[any](err)
	writeJSON(w, httpStatusFor(res.Code), res)
}

// httpStatusFor maps a result code to the HTTP status it is served with.
func httpStatusFor(code status.Code) int {
	switch code {
	case status.C200:
		return http.StatusOK
	case status.E20006:
		return http.StatusNotFound
	case status.E20009:
		return http.StatusConflict
	case status.E10001, status.E20005, status.E20010, status.E20011, status.E20012:
		return http.StatusBadRequest
	case status.E20001:
		return http.StatusPreconditionFailed
	case status.E20002:
		return http.StatusBadGateway
	case status.E20008:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a size-limited JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return status.Wrap(status.E20005, "decode request", err)
	}
	return nil
}

// sseStream writes server-sent events.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startSSE sends the event-stream headers. The server write deadline is
// lifted for the stream.
func startSSE(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

func (st *sseStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(st.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	st.flusher.Flush()
	return nil
}

func (st *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(st.w, ": %s\n\n", text); err != nil {
		return err
	}
	st.flusher.Flush()
	return nil
}
