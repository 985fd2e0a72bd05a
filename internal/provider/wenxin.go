// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
)

// =============================================================================
// WENXIN PROVIDER
// =============================================================================

const (
	// DefaultWenXinURL is the chat endpoint used when none is configured.
	DefaultWenXinURL = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/eb-instant"

	// DefaultWenXinTokenURL exchanges an API key and secret for an access
	// token.
	DefaultWenXinTokenURL = "https://aip.baidubce.com/oauth/2.0/token"

	// FillerContent is the text of messages inserted to keep roles
	// alternating.
	FillerContent = "Ignore"
)

// WenXin talks to the ERNIE Bot chat API. The API requires the roles to
// alternate user, assistant, user... starting with user.
type WenXin struct {
	// TokenURL overrides DefaultWenXinTokenURL.
	TokenURL string

	doer Doer

	mu        sync.Mutex
	cached    string
	cachedFor string
	expires   time.Time
}

// NewWenXin creates the wenxin provider. doer is used for access token
// exchange; nil selects the shared client.
func NewWenXin(doer Doer) *WenXin {
	if doer == nil {
		doer = sharedStreamingClient
	}
	return &WenXin{TokenURL: DefaultWenXinTokenURL, doer: doer}
}

// Kind implements Provider.
func (w *WenXin) Kind() Kind { return KindWenXin }

// Marker implements Provider.
func (w *WenXin) Marker() string { return "data:" }

// Credential implements Provider.
func (w *WenXin) Credential(s config.Settings) error {
	wx := s.Model.WenXin
	if strings.TrimSpace(wx.AccessToken) != "" {
		return nil
	}
	if wx.APIKey != "" && wx.APISecret != "" {
		return nil
	}
	return status.Wrap(status.E20001, "wenxin", status.ErrCredentialMissing)
}

// BuildChatRequest implements Provider.
func (w *WenXin) BuildChatRequest(ctx context.Context, s config.Settings, window []model.Message) (*http.Request, error) {
	return w.newRequest(ctx, s, alternateRoles(window))
}

// BuildTitleRequest implements Provider. The API has no system role, so the
// prompt and the conversation are folded into one user message.
func (w *WenXin) BuildTitleRequest(ctx context.Context, s config.Settings, window []model.Message, prompt string) (*http.Request, error) {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n")
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, m.Content)
	}
	return w.newRequest(ctx, s, []wenxinMessage{{Role: string(model.RoleUser), Content: b.String()}})
}

type wenxinMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wenxinRequest struct {
	Stream   bool            `json:"stream"`
	Messages []wenxinMessage `json:"messages"`
}

func (w *WenXin) newRequest(ctx context.Context, s config.Settings, msgs []wenxinMessage) (*http.Request, error) {
	token, err := w.accessToken(ctx, s)
	if err != nil {
		return nil, err
	}

	endpoint := s.Model.WenXin.URL
	if endpoint == "" {
		endpoint = DefaultWenXinURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid wenxin url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(wenxinRequest{Stream: true, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setStreamHeaders(req)
	return req, nil
}

// alternateRoles converts window to wenxin messages, inserting filler turns
// so the first role is user and no two neighbours share a role.
func alternateRoles(window []model.Message) []wenxinMessage {
	out := make([]wenxinMessage, 0, len(window)+1)
	for i, m := range window {
		role := string(m.Role)
		switch {
		case i == 0 && m.Role != model.RoleUser:
			out = append(out, wenxinMessage{Role: string(model.RoleUser), Content: FillerContent})
		case i > 0 && out[len(out)-1].Role == role:
			out = append(out, wenxinMessage{Role: string(opposite(m.Role)), Content: FillerContent})
		}
		out = append(out, wenxinMessage{Role: role, Content: m.Content})
	}
	return out
}

func opposite(r model.Role) model.Role {
	if r == model.RoleUser {
		return model.RoleAssistant
	}
	return model.RoleUser
}

// =============================================================================
// ACCESS TOKEN
// =============================================================================

type wenxinToken struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// accessToken returns the configured token, or exchanges the API key and
// secret for one. Exchanged tokens are cached until shortly before expiry.
func (w *WenXin) accessToken(ctx context.Context, s config.Settings) (string, error) {
	wx := s.Model.WenXin
	if token := strings.TrimSpace(wx.AccessToken); token != "" {
		return token, nil
	}
	if err := w.Credential(s); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cached != "" && w.cachedFor == wx.APIKey && time.Now().Before(w.expires) {
		return w.cached, nil
	}

	u, err := url.Parse(w.TokenURL)
	if err != nil {
		return "", fmt.Errorf("invalid token url: %w", err)
	}
	q := u.Query()
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", wx.APIKey)
	q.Set("client_secret", wx.APISecret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	resp, err := w.doer.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxLineSize))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	var tok wenxinToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange failed (%d): %s %s", resp.StatusCode, tok.Error, tok.ErrorDescription)
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	w.cached = tok.AccessToken
	w.cachedFor = wx.APIKey
	w.expires = time.Now().Add(ttl - ttl/10)
	log.Debug().Dur("ttl", ttl).Msg("wenxin access token refreshed")
	return w.cached, nil
}

// =============================================================================
// DECODING
// =============================================================================

type wenxinChunk struct {
	Created   int64  `json:"created"`
	Result    string `json:"result"`
	IsEnd     bool   `json:"is_end"`
	ErrorCode *int   `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// DecodeLine implements Provider. Any error_code aborts the stream.
func (w *WenXin) DecodeLine(payload []byte) (Fragment, error) {
	var chunk wenxinChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return Fragment{Opaque: string(payload)}, nil
	}
	if chunk.ErrorCode != nil {
		return Fragment{}, fmt.Errorf("wenxin error %d: %s", *chunk.ErrorCode, chunk.ErrorMsg)
	}

	frag := Fragment{Content: chunk.Result}
	if chunk.Created != 0 {
		ticks := int(chunk.Created)
		frag.Ticks = &ticks
	}
	return frag, nil
}
