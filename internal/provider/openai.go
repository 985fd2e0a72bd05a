// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
)

// =============================================================================
// CHATGPT PROVIDER
// =============================================================================

const (
	// DefaultOpenAIBaseURL is used when no proxy is enabled.
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// DefaultChatGPTModel is sent when no model is configured.
	DefaultChatGPTModel = openai.GPT3Dot5Turbo

	chatCompletionsPath = "/v1/chat/completions"
)

// ChatGPT talks to the OpenAI chat completions API or a compatible relay.
type ChatGPT struct{}

// NewChatGPT creates the chatgpt provider.
func NewChatGPT() *ChatGPT {
	return &ChatGPT{}
}

// Kind implements Provider.
func (c *ChatGPT) Kind() Kind { return KindChatGPT }

// Marker implements Provider.
func (c *ChatGPT) Marker() string { return "data:" }

// Credential implements Provider.
func (c *ChatGPT) Credential(s config.Settings) error {
	if strings.TrimSpace(s.Model.ChatGPT.Token) == "" {
		return status.Wrap(status.E20001, "chatgpt", status.ErrCredentialMissing)
	}
	return nil
}

// Endpoint returns the chat completions URL for s.
func (c *ChatGPT) Endpoint(s config.Settings) string {
	base := DefaultOpenAIBaseURL
	if proxy := s.Model.ChatGPT.Proxy; proxy.UseProxy && proxy.Address != "" {
		base = strings.TrimRight(proxy.Address, "/")
	}
	return base + chatCompletionsPath
}

// BuildChatRequest implements Provider.
func (c *ChatGPT) BuildChatRequest(ctx context.Context, s config.Settings, window []model.Message) (*http.Request, error) {
	return c.newRequest(ctx, s, toOpenAIMessages(window))
}

// BuildTitleRequest implements Provider. The prompt is sent as a leading
// system message.
func (c *ChatGPT) BuildTitleRequest(ctx context.Context, s config.Settings, window []model.Message, prompt string) (*http.Request, error) {
	msgs := append([]openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	}}, toOpenAIMessages(window)...)
	return c.newRequest(ctx, s, msgs)
}

func (c *ChatGPT) newRequest(ctx context.Context, s config.Settings, msgs []openai.ChatCompletionMessage) (*http.Request, error) {
	if err := c.Credential(s); err != nil {
		return nil, err
	}

	modelName := s.Model.ChatGPT.Model
	if modelName == "" {
		modelName = DefaultChatGPTModel
	}
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(s), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setStreamHeaders(req)
	req.Header.Set("Authorization", "Bearer "+s.Model.ChatGPT.Token)
	if param := s.Model.ChatGPT.Proxy.Param; param != "" {
		req.Header.Set("token", param)
	}
	return req, nil
}

// chatGPTChunk is a stream chunk that may carry an API error instead of
// choices.
type chatGPTChunk struct {
	openai.ChatCompletionStreamResponse
	Error *openai.APIError `json:"error,omitempty"`
}

// DecodeLine implements Provider.
func (c *ChatGPT) DecodeLine(payload []byte) (Fragment, error) {
	var chunk chatGPTChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return Fragment{Opaque: string(payload)}, nil
	}
	if chunk.Error != nil {
		return Fragment{}, fmt.Errorf("chatgpt: %s", chunk.Error.Message)
	}

	var frag Fragment
	if chunk.Created != 0 {
		ticks := int(chunk.Created)
		frag.Ticks = &ticks
	}
	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta
		frag.Role = delta.Role
		frag.Content = delta.Content
	}
	return frag, nil
}

func toOpenAIMessages(window []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(window))
	for _, m := range window {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
