// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/session"
	"github.com/jeranaias/tinychat/internal/status"
	"github.com/jeranaias/tinychat/internal/storage"
	"github.com/jeranaias/tinychat/internal/telemetry"
)

// =============================================================================
// FIXTURES
// =============================================================================

type staticSettings struct {
	s config.Settings
}

func (st *staticSettings) Effective() config.Settings { return st.s }

// countingPersistence counts detail writes of a real session store.
type countingPersistence struct {
	*storage.SessionStore
	detailWrites atomic.Int32
}

func (c *countingPersistence) SaveIndexEntry(t *model.Transcript) (string, error) {
	if t != nil && t.Messages != nil {
		c.detailWrites.Add(1)
	}
	return c.SessionStore.SaveIndexEntry(t)
}

type fixture struct {
	responder *Responder
	catalog   *session.Catalog
	persist   *countingPersistence
	dir       string
	id        string
}

func chatgptSettings(url string) config.Settings {
	s := config.Default()
	s.Model.ChatGPT.Token = "sk-test"
	s.Model.ChatGPT.Proxy = config.ProxySettings{Address: url, UseProxy: true}
	s.Session.AutoTitleGenerate = config.TitleNone
	return s
}

func newFixture(t *testing.T, s config.Settings) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "session")
	persist := &countingPersistence{SessionStore: storage.NewSessionStore(dir, nil)}
	cat := session.NewCatalog(persist, nil)
	require.NoError(t, cat.Initialize())
	persist.detailWrites.Store(0)

	return &fixture{
		responder: NewResponder(cat, &staticSettings{s: s}, nil, nil),
		catalog:   cat,
		persist:   persist,
		dir:       dir,
		id:        cat.Active().ID,
	}
}

func (f *fixture) persisted(t *testing.T) []model.Message {
	t.Helper()
	detail, ok := storage.NewSessionStore(f.dir, nil).LoadDetail(f.id)
	require.True(t, ok)
	return detail.Messages
}

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	}
}

func chunk(role, content string) string {
	delta := map[string]string{}
	if role != "" {
		delta["role"] = role
	}
	if content != "" {
		delta["content"] = content
	}
	data, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1700000000,
		"choices": []any{map[string]any{"index": 0, "delta": delta}},
	})
	return "data: " + string(data)
}

// =============================================================================
// DECODING TESTS
// =============================================================================

func TestDecode_StopsAtDoneAndSkipsNoise(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		chunk("assistant", ""),
		"",
		chunk("", "Hi"),
		"data: not json",
		"data: [DONE]",
		chunk("", "after done"),
	}, "\n")

	var got []Fragment
	err := Decode(context.Background(), strings.NewReader(body), NewChatGPT(), func(f Fragment) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, ": keep-alive", got[0].Opaque)
	assert.Equal(t, "assistant", got[1].Role)
	assert.Equal(t, "Hi", got[2].Content)
	assert.Equal(t, "not json", got[3].Opaque)
}

func TestDecode_LongLineRejected(t *testing.T) {
	body := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n"
	err := Decode(context.Background(), strings.NewReader(body), NewChatGPT(), func(Fragment) error { return nil })
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestLineReader_LastLineWithoutNewline(t *testing.T) {
	r := NewLineReader(strings.NewReader("one\r\n\ntwo"))

	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(line))

	line, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(line))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChatGPT_DecodeLine(t *testing.T) {
	c := NewChatGPT()

	f, err := c.DecodeLine([]byte(strings.TrimPrefix(chunk("", "abc"), "data: ")))
	require.NoError(t, err)
	assert.Equal(t, "abc", f.Content)
	require.NotNil(t, f.Ticks)
	assert.Equal(t, 1700000000, *f.Ticks)

	_, err = c.DecodeLine([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestWenXin_DecodeLine(t *testing.T) {
	w := NewWenXin(nil)

	f, err := w.DecodeLine([]byte(`{"result":"你好","is_end":false,"created":1}`))
	require.NoError(t, err)
	assert.Equal(t, "你好", f.Content)

	_, err = w.DecodeLine([]byte(`{"error_code":110,"error_msg":"Access token invalid"}`))
	assert.ErrorContains(t, err, "Access token invalid")

	f, err = w.DecodeLine([]byte("<html>"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", f.Opaque)
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestChatGPT_BuildChatRequest(t *testing.T) {
	s := config.Default()
	s.Model.ChatGPT.Token = "sk-abc"
	window := []model.Message{model.NewMessage(model.RoleUser, "hello")}

	req, err := NewChatGPT().BuildChatRequest(context.Background(), s, window)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer sk-abc", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("token"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.Equal(t, DefaultChatGPTModel, body["model"])
	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]any)["content"])

	s.Model.ChatGPT.Proxy = config.ProxySettings{Address: "https://relay.example/", Param: "p1", UseProxy: true}
	req, err = NewChatGPT().BuildChatRequest(context.Background(), s, window)
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example/v1/chat/completions", req.URL.String())
	assert.Equal(t, "p1", req.Header.Get("token"))
}

func TestChatGPT_BuildTitleRequestPrependsPrompt(t *testing.T) {
	s := config.Default()
	s.Model.ChatGPT.Token = "sk-abc"

	req, err := NewChatGPT().BuildTitleRequest(context.Background(), s,
		[]model.Message{model.NewMessage(model.RoleUser, "hello")}, "make a title")
	require.NoError(t, err)

	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "make a title", body.Messages[0].Content)
}

func TestWenXin_AlternationRepair(t *testing.T) {
	window := []model.Message{
		model.NewMessage(model.RoleAssistant, "a"),
		model.NewMessage(model.RoleUser, "b"),
		model.NewMessage(model.RoleUser, "c"),
	}

	got := alternateRoles(window)
	require.NotEmpty(t, got)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, FillerContent, got[0].Content)
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1].Role, got[i].Role, "messages %d and %d share a role", i-1, i)
	}
	assert.Equal(t, "c", got[len(got)-1].Content)
	assert.Len(t, got, 5)
}

func TestWenXin_BuildRequestWithAccessToken(t *testing.T) {
	s := config.Default()
	s.Model.WenXin.AccessToken = "tok 1"

	req, err := NewWenXin(nil).BuildChatRequest(context.Background(), s,
		[]model.Message{model.NewMessage(model.RoleUser, "hi")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(req.URL.String(), DefaultWenXinURL))
	assert.Equal(t, "tok 1", req.URL.Query().Get("access_token"))
}

func TestWenXin_ExchangesAndCachesToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "key", r.URL.Query().Get("client_id"))
		assert.Equal(t, "secret", r.URL.Query().Get("client_secret"))
		fmt.Fprint(w, `{"access_token":"exchanged","expires_in":3600}`)
	}))
	defer srv.Close()

	w := NewWenXin(srv.Client())
	w.TokenURL = srv.URL
	s := config.Default()
	s.Model.WenXin.APIKey = "key"
	s.Model.WenXin.APISecret = "secret"
	require.NoError(t, w.Credential(s))

	window := []model.Message{model.NewMessage(model.RoleUser, "hi")}
	for i := 0; i < 2; i++ {
		req, err := w.BuildChatRequest(context.Background(), s, window)
		require.NoError(t, err)
		assert.Equal(t, "exchanged", req.URL.Query().Get("access_token"))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)

	p, err := r.Get("ChatGPT")
	require.NoError(t, err)
	assert.Equal(t, KindChatGPT, p.Kind())

	_, err = r.Get("claude")
	assert.ErrorIs(t, err, status.ErrUnknownProvider)
	assert.Equal(t, status.E20012, status.CodeOf(err))
}

// =============================================================================
// STREAM REPLY TESTS
// =============================================================================

type progressCall struct {
	first bool
	delta string
}

func TestStreamReply_Success(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		chunk("assistant", ""),
		chunk("", "Hel"),
		chunk("", "lo"),
		"data: [DONE]",
	))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))

	var calls []progressCall
	err := f.responder.StreamReply(context.Background(), f.id, "hi there", func(first bool, delta string) {
		calls = append(calls, progressCall{first, delta})
	})
	require.NoError(t, err)

	assert.Equal(t, []progressCall{{true, ""}, {false, "Hel"}, {false, "lo"}}, calls)

	msgs := f.persisted(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
	require.NotNil(t, msgs[1].Ticks)
	assert.Equal(t, 1700000000, *msgs[1].Ticks)

	assert.Equal(t, int32(1), f.persist.detailWrites.Load(), "the transcript is persisted exactly once")
	st, _ := f.catalog.Status(f.id)
	assert.Equal(t, session.SubNone, st.SubStatus)
	assert.Equal(t, session.StateSync, st.State)
}

type usageLog struct {
	mu      sync.Mutex
	replies []telemetry.Reply
}

func (u *usageLog) Record(r telemetry.Reply) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.replies = append(u.replies, r)
	return nil
}

func TestStreamReply_RecordsUsage(t *testing.T) {
	ok := httptest.NewServer(sseHandler(chunk("", "Hello"), "data: [DONE]"))
	defer ok.Close()
	f := newFixture(t, chatgptSettings(ok.URL))
	usage := &usageLog{}
	f.responder.WithUsage(usage)

	require.NoError(t, f.responder.StreamReply(context.Background(), f.id, "hi there", nil))
	require.Len(t, usage.replies, 1)
	got := usage.replies[0]
	assert.Equal(t, f.id, got.Session)
	assert.Equal(t, "chatgpt", got.Provider)
	assert.GreaterOrEqual(t, got.PromptChars, len("hi there"))
	assert.Equal(t, 5, got.ReplyChars)
	assert.False(t, got.Failed)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer down.Close()
	f.responder.settings = &staticSettings{s: chatgptSettings(down.URL)}

	require.Error(t, f.responder.StreamReply(context.Background(), f.id, "again", nil))
	require.Len(t, usage.replies, 2)
	assert.True(t, usage.replies[1].Failed)
	assert.Zero(t, usage.replies[1].ReplyChars)
}

func TestStreamReply_CredentialMissing(t *testing.T) {
	s := config.Default()
	s.Session.AutoTitleGenerate = config.TitleNone
	f := newFixture(t, s)

	err := f.responder.StreamReply(context.Background(), f.id, "hi", nil)
	assert.ErrorIs(t, err, status.ErrCredentialMissing)
	assert.Equal(t, status.E20001, status.CodeOf(err))

	store, _ := f.catalog.Store(f.id)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int32(0), f.persist.detailWrites.Load())
}

func TestStreamReply_RollbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))

	var first bool
	err := f.responder.StreamReply(context.Background(), f.id, "question", func(isFirst bool, _ string) {
		first = first || isFirst
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrInferenceRequestFailed)
	assert.ErrorContains(t, err, "502")
	assert.True(t, first, "the placeholder was announced before the request")

	msgs := f.persisted(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, int32(1), f.persist.detailWrites.Load())

	st, _ := f.catalog.Status(f.id)
	assert.Equal(t, session.SubNone, st.SubStatus)
}

func TestStreamReply_ProviderErrorMidStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		chunk("", "partial"),
		`data: {"error":{"message":"server overloaded"}}`,
	))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))

	err := f.responder.StreamReply(context.Background(), f.id, "q", nil)
	assert.ErrorIs(t, err, status.ErrInferenceRequestFailed)

	msgs := f.persisted(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestStreamReply_ContextOverflowKeepsQuestion(t *testing.T) {
	s := chatgptSettings("http://127.0.0.1:1")
	s.Model.Common.Options.LimitsLength = 3
	f := newFixture(t, s)

	err := f.responder.StreamReply(context.Background(), f.id, "far too long", nil)
	assert.ErrorIs(t, err, status.ErrContextOverflow)
	assert.Equal(t, status.E20010, status.CodeOf(err))

	msgs := f.persisted(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "far too long", msgs[0].Content)
}

func TestStreamReply_RejectsConcurrentReply(t *testing.T) {
	f := newFixture(t, chatgptSettings("http://127.0.0.1:1"))
	require.NoError(t, f.catalog.PrepareSessionSyncStatus(f.id, session.SubGeneratingChat, false))

	err := f.responder.StreamReply(context.Background(), f.id, "q", nil)
	assert.ErrorIs(t, err, status.ErrOperationInProgress)

	store, _ := f.catalog.Store(f.id)
	assert.Equal(t, 0, store.Len())
}

func TestStreamReply_PlaceholderDeletedMidStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		chunk("", "one"),
		chunk("", "two"),
		"data: [DONE]",
	))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))
	store, err := f.catalog.Store(f.id)
	require.NoError(t, err)

	placeholder := -1
	err = f.responder.StreamReply(context.Background(), f.id, "q", func(first bool, _ string) {
		if first {
			msgs := store.Messages()
			placeholder = msgs[len(msgs)-1].Handle
			return
		}
		require.NoError(t, store.Remove(placeholder))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrInvalidHandle)
	assert.NotErrorIs(t, err, status.ErrInferenceRequestFailed)

	msgs := f.persisted(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "q", msgs[0].Content)
}

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestGenerateTitle_NormalizesAndTruncates(t *testing.T) {
	long := strings.Repeat("題", 60)
	srv := httptest.NewServer(sseHandler(
		chunk("", "\""+long[:len(long)/2]),
		chunk("", long[len(long)/2:]+"\"\n"),
		"data: [DONE]",
	))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))
	store, _ := f.catalog.Store(f.id)
	store.AppendUserMessage("hello")

	title, err := f.responder.GenerateTitle(context.Background(), f.id, "")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("題", MaxTitleLength), title)
}

func TestGenerateTitle_EmptyTranscript(t *testing.T) {
	f := newFixture(t, chatgptSettings("http://127.0.0.1:1"))

	_, err := f.responder.GenerateTitle(context.Background(), f.id, "")
	assert.ErrorIs(t, err, status.ErrNoContent)
}

func TestRefreshTitle_PersistsName(t *testing.T) {
	srv := httptest.NewServer(sseHandler(chunk("", "Greeting"), "data: [DONE]"))
	defer srv.Close()
	f := newFixture(t, chatgptSettings(srv.URL))
	store, _ := f.catalog.Store(f.id)
	store.AppendUserMessage("hello")

	title, err := f.responder.RefreshTitle(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", title)

	index, err := storage.NewSessionStore(f.dir, nil).ListIndex()
	require.NoError(t, err)
	assert.Equal(t, "Greeting", index[f.id].Name)
	assert.True(t, index[f.id].NameGenerated)
}

func TestStreamReply_AutoTitleOnFirstReply(t *testing.T) {
	var mu sync.Mutex
	titleRequests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) > 0 && body.Messages[0].Role == "system" {
			mu.Lock()
			titleRequests++
			mu.Unlock()
			sseHandler(chunk("", "Small talk"), "data: [DONE]")(w, r)
			return
		}
		sseHandler(chunk("", "Hello"), "data: [DONE]")(w, r)
	}))
	defer srv.Close()

	s := chatgptSettings(srv.URL)
	s.Session.AutoTitleGenerate = config.TitleOneStep
	f := newFixture(t, s)

	require.NoError(t, f.responder.StreamReply(context.Background(), f.id, "hi", nil))
	f.responder.Wait()
	rec, _ := f.catalog.Lookup(f.id)
	assert.Equal(t, "Small talk", rec.Name)
	assert.True(t, rec.NameGenerated)

	require.NoError(t, f.responder.StreamReply(context.Background(), f.id, "again", nil))
	f.responder.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, titleRequests, "oneStep titles a session only once")
}
