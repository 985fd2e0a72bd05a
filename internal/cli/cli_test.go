// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tinychat/internal/app"
	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
)

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	os.Exit(m.Run())
}

// =============================================================================
// HELPERS
// =============================================================================

func runCmd(t *testing.T, ctx context.Context, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", dir}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	return runCmd(t, context.Background(), dir, args...)
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	require.NoError(t, err, out)
	return out
}

func chunk(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1700000000,
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(data)
}

// useUpstream points the chatgpt provider at a fake streaming endpoint that
// answers "Hello world" to every request.
func useUpstream(t *testing.T) {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range []string{chunk("Hello"), chunk(" world"), "data: [DONE]"} {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	t.Cleanup(up.Close)
	t.Setenv("TINYCHAT_OPENAI_TOKEN", "sk-test-token-1234")
	t.Setenv("TINYCHAT_OPENAI_PROXY", up.URL)
}

// newDir returns a config directory with automatic titles turned off.
func newDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustRun(t, dir, "config", "set", "session.autoTitleGenerate", config.TitleNone)
	return dir
}

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Prompt(prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessionsList_CreatesFirstSession(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "sessions", "list")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, model.DefaultSessionName)
	assert.Contains(t, out, "*1")
	assert.Contains(t, out, "Total: 1 session(s)")

	out = mustRun(t, dir, "sessions", "list", "--json")
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)
}

func TestSessions_RenameDeleteNotFound(t *testing.T) {
	dir := newDir(t)

	mustRun(t, dir, "sessions", "rename", "1", "Trip", "planning")
	assert.Contains(t, mustRun(t, dir, "sessions", "list"), "Trip planning")

	_, err := run(t, dir, "sessions", "show", "5")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, ExitCodeFor(err))

	_, err = run(t, dir, "sessions", "rename", "1", "  ")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))

	out := mustRun(t, dir, "sessions", "delete", "1")
	assert.Contains(t, out, `"Trip planning" deleted`)

	out = mustRun(t, dir, "sessions", "list")
	assert.NotContains(t, out, "Trip planning")
	assert.Contains(t, out, "Total: 1 session(s)")
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsAndPersists(t *testing.T) {
	dir := newDir(t)
	useUpstream(t)

	out := mustRun(t, dir, "ask", "hello", "there")
	assert.Equal(t, "Hello world\n", out)

	out = mustRun(t, dir, "sessions", "show", "1")
	assert.Contains(t, out, "You:")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "Assistant:")
	assert.Contains(t, out, "Hello world")

	out = mustRun(t, dir, "sessions", "show", "1", "--json")
	var tr model.Transcript
	require.NoError(t, json.Unmarshal([]byte(out), &tr))
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, model.RoleUser, tr.Messages[0].Role)
	assert.Equal(t, "Hello world", tr.Messages[1].Content)
}

func TestAsk_RenderFallsBackWhenPiped(t *testing.T) {
	dir := newDir(t)
	useUpstream(t)

	out := mustRun(t, dir, "ask", "--render", "hi")
	assert.Equal(t, "Hello world\n", out)
}

func TestAsk_MissingCredential(t *testing.T) {
	dir := newDir(t)
	t.Setenv("TINYCHAT_OPENAI_TOKEN", "")

	_, err := run(t, dir, "ask", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrCredentialMissing)
	assert.Equal(t, ExitAuthError, ExitCodeFor(err))
}

func TestAsk_UnknownSession(t *testing.T) {
	dir := newDir(t)
	useUpstream(t)

	_, err := run(t, dir, "ask", "--session", "no-such-id", "hello")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, ExitCodeFor(err))
}

func TestSessionsSearch(t *testing.T) {
	dir := newDir(t)
	useUpstream(t)
	mustRun(t, dir, "ask", "where is the kettle")

	out := mustRun(t, dir, "sessions", "search", "kettle")
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "where is the kettle")
	assert.Contains(t, out, "You")

	out = mustRun(t, dir, "sessions", "search", "--json", "WORLD")
	var hits []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "assistant", hits[0]["role"])

	assert.Contains(t, mustRun(t, dir, "sessions", "search", "zebra"), "No matches.")
}

func TestSessionsExport(t *testing.T) {
	dir := newDir(t)

	_, err := run(t, dir, "sessions", "export", "1")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))

	useUpstream(t)
	mustRun(t, dir, "ask", "where is the kettle")

	out := mustRun(t, dir, "sessions", "export", "1")
	assert.Contains(t, out, "generator: tinychat")
	assert.Contains(t, out, "### You")
	assert.Contains(t, out, "where is the kettle")
	assert.Contains(t, out, "Hello world")

	outDir := filepath.Join(t.TempDir(), "exports")
	out = mustRun(t, dir, "sessions", "export", "1", "--format", "txt", "-o", outDir)
	require.True(t, strings.HasPrefix(out, "Exported to "))
	path := strings.TrimSpace(strings.TrimPrefix(out, "Exported to "))
	assert.Equal(t, ".txt", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Assistant")

	_, err = run(t, dir, "sessions", "export", "1", "--format", "pdf")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))
}

func TestUsage(t *testing.T) {
	dir := newDir(t)
	assert.Contains(t, mustRun(t, dir, "usage"), "No activity.")

	useUpstream(t)
	mustRun(t, dir, "ask", "where is the kettle")

	out := mustRun(t, dir, "usage")
	assert.Contains(t, out, RenderLabel("Replies")+"1\n")
	assert.Contains(t, out, "chatgpt")
	assert.Contains(t, out, "REPLIES")

	out = mustRun(t, dir, "usage", "--json", "--days", "30")
	var trends map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &trends))
	assert.EqualValues(t, 30, trends["days"])
	assert.EqualValues(t, 1, trends["replies"])

	assert.Contains(t, mustRun(t, dir, "usage", "--prune", "30"), "Removed 0 day(s)")

	_, err := run(t, dir, "usage", "--days", "0")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))
}

// =============================================================================
// CHAT
// =============================================================================

func openTestApp(t *testing.T, dir string) *app.App {
	t.Helper()
	a, err := app.New(app.Options{ConfigDir: dir, DisableSearch: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestChat_SlashCommands(t *testing.T) {
	dir := newDir(t)
	a := openTestApp(t, dir)

	var out bytes.Buffer
	cs := &chatSession{app: a, out: &out, id: a.Catalog.Active().ID}
	in := &scriptedReader{lines: []string{"/new", "/list", "/switch 1", "/switch 9", "/bogus", "", "/delete", "/help", "/quit", "never read"}}

	require.NoError(t, cs.run(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "New session")
	assert.Contains(t, text, "Total: 2 session(s)")
	assert.Contains(t, text, "Switched to")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "Deleted")
	assert.Contains(t, text, "/switch N")
	assert.Equal(t, []string{"never read"}, in.lines)

	assert.Equal(t, 1, a.Catalog.Len())
	assert.Equal(t, a.Catalog.Active().ID, cs.id)
	assert.Contains(t, in.prompts[0], model.DefaultSessionName)
}

func TestChat_SendsUntilEOF(t *testing.T) {
	dir := newDir(t)
	useUpstream(t)
	a := openTestApp(t, dir)

	var out bytes.Buffer
	cs := &chatSession{app: a, out: &out, id: a.Catalog.Active().ID}
	require.NoError(t, cs.run(context.Background(), &scriptedReader{lines: []string{"hi", "again"}}))

	assert.Equal(t, 2, strings.Count(out.String(), "Assistant: Hello world\n"))
	store, err := a.Catalog.Store(cs.id)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Len())
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_SetAndShow(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "config", "set", "session.sortType", model.SortCreateTimeDesc)
	assert.Equal(t, model.SortCreateTimeDesc+"\n", mustRun(t, dir, "config", "show", "session.sortType"))

	_, err := run(t, dir, "config", "set", "session.sortType", "bogus")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCodeFor(err))

	_, err = run(t, dir, "config", "set", "no.such.key", "x")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))

	out := mustRun(t, dir, "config", "show")
	var s config.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, model.SortCreateTimeDesc, s.Session.SortType)

	assert.Equal(t, config.SettingPath(dir)+"\n", mustRun(t, dir, "config", "path"))
}

func TestConfig_SetTokenIsMasked(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "config", "set-token", "chatgpt", "sk-test-token-1234")
	assert.Equal(t, "sk-t****1234\n", mustRun(t, dir, "config", "show", "model.chatgpt.token"))

	mustRun(t, dir, "config", "set-token", "wenxin", "key-123456789", "secret-123456789")
	store := config.NewStore(dir, nil)
	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-token-1234", s.Model.ChatGPT.Token)
	assert.Equal(t, "key-123456789", s.Model.WenXin.APIKey)
	assert.Equal(t, "secret-123456789", s.Model.WenXin.APISecret)

	_, err = run(t, dir, "config", "set-token", "wenxin", "only-key")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))
	_, err = run(t, dir, "config", "set-token", "bard", "x")
	assert.Equal(t, ExitUsageError, ExitCodeFor(err))
}

func TestConfig_ExportImportKeepsSecrets(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "config", "set-token", "chatgpt", "sk-test-token-1234")
	mustRun(t, dir, "config", "set", "session.sortType", model.SortCreateTimeDesc)

	out := mustRun(t, dir, "config", "export", "--secrets")
	assert.Contains(t, out, "sk-test-token-1234")

	file := filepath.Join(t.TempDir(), "settings.toml")
	mustRun(t, dir, "config", "export", file)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-test-token-1234")
	assert.Contains(t, string(data), "sk-t****1234")

	other := t.TempDir()
	mustRun(t, other, "config", "set-token", "chatgpt", "sk-test-token-1234")
	mustRun(t, other, "config", "import", file)

	s, err := config.NewStore(other, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-token-1234", s.Model.ChatGPT.Token)
	assert.Equal(t, model.SortCreateTimeDesc, s.Session.SortType)
}

// =============================================================================
// SERVE
// =============================================================================

func TestServe_StopsWhenContextEnds(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runCmd(t, ctx, dir, "serve", "--addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "Listening on http://127.0.0.1:")
	assert.Contains(t, out, "Authentication disabled")
}

// =============================================================================
// ERRORS AND TABLES
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageErr("bad", ""), ExitUsageError},
		{"validation", config.ValidateErrors{{Field: "a", Message: "b"}}, ExitConfigError},
		{"credential", status.Wrap(status.E20001, "x", status.ErrCredentialMissing), ExitAuthError},
		{"network", status.Wrap(status.E20002, "x", status.ErrInferenceRequestFailed), ExitNetworkError},
		{"storage", status.Wrap(status.E20008, "x", status.ErrPersistenceUnavailable), ExitStorageError},
		{"not found", status.Wrap(status.E20006, "x", status.ErrSessionNotFound), ExitNotFoundError},
		{"busy", status.Wrap(status.E20009, "x", status.ErrOperationInProgress), ExitBusyError},
		{"overflow", status.Wrap(status.E20010, "x", status.ErrContextOverflow), ExitUsageError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestTable_AlignsWideRunes(t *testing.T) {
	var out bytes.Buffer
	tb := &table{headers: []string{"NAME", "N"}}
	tb.add("日本", "1")
	tb.add("abcde", "2")
	tb.render(&out)

	assert.Equal(t, "NAME   N\n日本   1\nabcde  2\n", out.String())
}

func TestUsageErrorIncludesExample(t *testing.T) {
	err := usageErr("name must not be empty", `tinychat sessions rename 1 "x"`)
	assert.Equal(t, "name must not be empty\nExample: tinychat sessions rename 1 \"x\"", err.Error())
}
