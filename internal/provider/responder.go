// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/session"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/telemetry"
	"github.com/jeranaias/tinychat/internal/transcript"
	"github.com/jeranaias/tinychat/internal/util"
)

// =============================================================================
// RESPONDER
// =============================================================================

// MaxTitleLength is the longest generated title, in characters.
const MaxTitleLength = 50

// titleTimeout bounds automatic title generation after a reply.
const titleTimeout = 2 * time.Minute

// maxErrorBody is how much of a failed response is kept for the error.
const maxErrorBody = 4 * 1024

// SettingsSource supplies the settings a request is built from.
// *config.Store implements it.
type SettingsSource interface {
	Effective() config.Settings
}

// UsageRecorder receives one record per finished reply.
// *telemetry.UsageTracker implements it.
type UsageRecorder interface {
	Record(telemetry.Reply) error
}

// ProgressFunc is called once with first set right after the reply
// placeholder is created, then once per received piece of content.
type ProgressFunc func(first bool, delta string)

// Responder streams provider replies into sessions of a catalog.
type Responder struct {
	catalog  *session.Catalog
	settings SettingsSource
	registry *Registry
	doer     Doer
	usage    UsageRecorder

	titles sync.WaitGroup
}

// NewResponder creates a responder. A nil registry selects the default
// providers and a nil doer the shared streaming client.
func NewResponder(catalog *session.Catalog, settings SettingsSource, registry *Registry, doer Doer) *Responder {
	if doer == nil {
		doer = sharedStreamingClient
	}
	if registry == nil {
		registry = NewRegistry(doer)
	}
	return &Responder{catalog: catalog, settings: settings, registry: registry, doer: doer}
}

// WithUsage records every reply into u.
func (r *Responder) WithUsage(u UsageRecorder) *Responder {
	r.usage = u
	return r
}

// Wait blocks until automatic title generation started by StreamReply has
// finished.
func (r *Responder) Wait() {
	r.titles.Wait()
}

// ProviderFor returns the provider session uses under s: the session's own
// override, else the configured default.
func (r *Responder) ProviderFor(sess *session.Transcript, s config.Settings) (Provider, error) {
	name := sess.PreferredProvider()
	if name == "" {
		name = s.Model.Common.DefaultModel
	}
	return r.registry.Get(name)
}

func policyFrom(s config.Settings) transcript.Policy {
	opts := s.Model.Common.Options
	return transcript.Policy{
		Limit:       opts.LimitsLength,
		Behavior:    opts.LimitsBehavior,
		Granularity: opts.LimitsCalculate,
	}
}

// =============================================================================
// STREAM REPLY
// =============================================================================

// StreamReply appends question to session sessionID and streams the
// provider's answer into a new assistant message.
//
// It fails before touching the transcript when the provider has no
// credential or another reply is already running for the session. A failed
// request removes the assistant message again and returns an error wrapping
// status.ErrInferenceRequestFailed. If the assistant message is deleted while
// the reply streams, reading stops and the error wraps
// status.ErrInvalidHandle. Whatever happens after the question is appended,
// the transcript is persisted exactly once.
//
// An empty question asks for a reply to the transcript as it is.
func (r *Responder) StreamReply(ctx context.Context, sessionID, question string, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(bool, string) {}
	}

	s := r.settings.Effective()
	sess, err := r.catalog.Session(sessionID)
	if err != nil {
		return err
	}
	p, err := r.ProviderFor(sess, s)
	if err != nil {
		return err
	}
	if err := p.Credential(s); err != nil {
		return err
	}
	if err := r.catalog.PrepareSessionSyncStatus(sessionID, session.SubGeneratingChat, false); err != nil {
		return err
	}

	start := time.Now()
	sent, err := r.streamReply(ctx, sess.Store, p, s, question, onProgress)
	r.recordUsage(sessionID, p, sent, time.Since(start), err)

	if serr := r.catalog.SyncTranscript(sessionID); serr != nil {
		log.Warn().Err(serr).Str("session", sessionID).Msg("reply not persisted")
	}
	r.catalog.FinishOperation(sessionID)

	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("provider", string(p.Kind())).Msg("reply failed")
		return err
	}
	log.Info().Str("session", sessionID).Str("provider", string(p.Kind())).Dur("elapsed", time.Since(start)).Msg("reply complete")

	r.autoTitle(ctx, sessionID, s)
	return nil
}

// exchange counts the characters sent to and received from a provider.
type exchange struct {
	prompt int
	reply  int
}

func (r *Responder) streamReply(ctx context.Context, store *transcript.Store, p Provider, s config.Settings, question string, onProgress ProgressFunc) (exchange, error) {
	var sent exchange
	if strings.TrimSpace(question) != "" {
		store.AppendUserMessage(question)
	}

	window, err := store.ComputeContextWindow(policyFrom(s))
	if err != nil {
		return sent, status.Wrap(status.E20010, "stream reply", err)
	}
	if len(window) == 0 {
		return sent, status.Wrap(status.E10001, "stream reply", status.ErrNoContent)
	}
	for _, m := range window {
		sent.prompt += utf8.RuneCountInString(m.Content)
	}

	h := store.AppendPlaceholder(model.RoleAssistant)
	onProgress(true, "")

	fail := func(cause error) error {
		if derr := store.Discard(h); derr != nil && !errors.Is(derr, status.ErrInvalidHandle) {
			log.Warn().Err(derr).Msg("could not roll back reply")
		}
		return status.Wrap(status.E20002, string(p.Kind()), fmt.Errorf("%w: %w", status.ErrInferenceRequestFailed, cause))
	}

	req, err := p.BuildChatRequest(ctx, s, window)
	if err != nil {
		return sent, fail(err)
	}
	resp, err := r.open(req)
	if err != nil {
		return sent, fail(err)
	}
	defer resp.Body.Close()

	err = Decode(ctx, resp.Body, p, func(f Fragment) error {
		if f.Role != "" && model.Role(f.Role).Valid() {
			if err := store.SetRole(h, model.Role(f.Role)); err != nil {
				return err
			}
		}
		if f.Content == "" {
			return nil
		}
		if err := store.Mutate(h, transcript.Mutation{Content: f.Content, Ticks: f.Ticks}, true); err != nil {
			return err
		}
		sent.reply += utf8.RuneCountInString(f.Content)
		onProgress(false, f.Content)
		return nil
	})
	if err != nil {
		if errors.Is(err, status.ErrInvalidHandle) {
			log.Debug().Int("handle", h).Msg("reply removed while streaming")
			return sent, status.Wrap(status.E20011, "stream reply", err)
		}
		return sent, fail(err)
	}
	return sent, nil
}

// recordUsage reports a request that reached the provider. Replies that
// failed before a context window was built are not counted.
func (r *Responder) recordUsage(sessionID string, p Provider, sent exchange, elapsed time.Duration, err error) {
	if r.usage == nil || sent.prompt == 0 {
		return
	}
	rec := telemetry.Reply{
		Session:     sessionID,
		Provider:    string(p.Kind()),
		PromptChars: sent.prompt,
		ReplyChars:  sent.reply,
		Duration:    elapsed,
		Failed:      err != nil,
	}
	if uerr := r.usage.Record(rec); uerr != nil {
		log.Warn().Err(uerr).Msg("usage not recorded")
	}
}

// open sends req and checks the response status.
func (r *Responder) open(req *http.Request) (*http.Response, error) {
	resp, err := r.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// =============================================================================
// TITLES
// =============================================================================

// GenerateTitle asks the provider to summarise session sessionID. An empty
// prompt selects the configured title prompt. The result is normalised and
// cut to MaxTitleLength characters.
func (r *Responder) GenerateTitle(ctx context.Context, sessionID, prompt string) (string, error) {
	s := r.settings.Effective()
	sess, err := r.catalog.Session(sessionID)
	if err != nil {
		return "", err
	}
	p, err := r.ProviderFor(sess, s)
	if err != nil {
		return "", err
	}
	if err := p.Credential(s); err != nil {
		return "", err
	}
	if prompt == "" {
		prompt = s.Model.Common.Prompts.GenerateTitle
	}

	pol := policyFrom(s)
	pol.Behavior = transcript.FailSafe
	window, err := sess.Store.ComputeContextWindow(pol)
	if err != nil {
		return "", err
	}
	if len(window) == 0 {
		return "", status.Wrap(status.E10001, "generate title", status.ErrNoContent)
	}

	failed := func(cause error) error {
		return status.Wrap(status.E20002, "generate title", fmt.Errorf("%w: %w", status.ErrInferenceRequestFailed, cause))
	}

	req, err := p.BuildTitleRequest(ctx, s, window, prompt)
	if err != nil {
		return "", failed(err)
	}
	resp, err := r.open(req)
	if err != nil {
		return "", failed(err)
	}
	defer resp.Body.Close()

	var b strings.Builder
	err = Decode(ctx, resp.Body, p, func(f Fragment) error {
		b.WriteString(f.Content)
		return nil
	})
	if err != nil {
		return "", failed(err)
	}

	title := util.NormalizeTitle(b.String())
	if utf8.RuneCountInString(title) > MaxTitleLength {
		log.Debug().Str("title", title).Msg("title shortened")
		title = util.TruncateRunesNoEllipsis(title, MaxTitleLength)
	}
	return title, nil
}

// RefreshTitle generates a title for session id and saves it as the
// session's name. Only one title generation runs per session at a time.
func (r *Responder) RefreshTitle(ctx context.Context, id string) (string, error) {
	if err := r.catalog.PrepareSessionSyncStatus(id, session.SubGeneratingTitle, false); err != nil {
		return "", err
	}
	defer r.catalog.FinishOperation(id)

	title, err := r.GenerateTitle(ctx, id, "")
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", status.Wrap(status.E10001, "refresh title", status.ErrNoContent)
	}

	generated := true
	if _, err := r.catalog.SyncSessionInfo(id, &session.SessionPatch{Name: &title, NameGenerated: &generated}, nil); err != nil {
		return title, err
	}
	log.Debug().Str("session", id).Str("title", title).Msg("title updated")
	return title, nil
}

// autoTitle starts title generation after a reply when the settings ask
// for it.
func (r *Responder) autoTitle(ctx context.Context, id string, s config.Settings) {
	switch s.Session.AutoTitleGenerate {
	case config.TitleEveryTime:
	case config.TitleOneStep:
		if rec, ok := r.catalog.Lookup(id); !ok || rec.NameGenerated {
			return
		}
	default:
		return
	}

	r.titles.Add(1)
	go func() {
		defer r.titles.Done()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
		defer cancel()
		if _, err := r.RefreshTitle(tctx, id); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("automatic title failed")
		}
	}()
}
