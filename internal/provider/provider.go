// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider streams replies from remote chat models into a session.
package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/status"
)

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Kind names a provider.
type Kind string

const (
	KindChatGPT Kind = config.ProviderChatGPT
	KindWenXin  Kind = config.ProviderWenXin
)

// ParseKind validates a provider name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindChatGPT, KindWenXin:
		return k, nil
	}
	return "", status.Wrap(status.E20012, "select provider", fmt.Errorf("%q: %w", name, status.ErrUnknownProvider))
}

// Fragment is one decoded piece of a reply stream.
type Fragment struct {
	// Role is set when the provider announces the speaker.
	Role string
	// Content is text to append to the reply.
	Content string
	// Ticks is the provider's timestamp for the reply, when it sends one.
	Ticks *int
	// Opaque holds a line that could not be decoded. It is ignored.
	Opaque string
}

// Doer executes HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider builds requests for and decodes responses from one remote model.
type Provider interface {
	Kind() Kind
	// Credential reports status.ErrCredentialMissing when s holds no usable
	// credential for the provider.
	Credential(s config.Settings) error
	BuildChatRequest(ctx context.Context, s config.Settings, window []model.Message) (*http.Request, error)
	BuildTitleRequest(ctx context.Context, s config.Settings, window []model.Message, prompt string) (*http.Request, error)
	// Marker is the prefix of every payload line.
	Marker() string
	// DecodeLine decodes one payload with the marker removed. An error
	// aborts the stream.
	DecodeLine(payload []byte) (Fragment, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps provider kinds to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[Kind]Provider
}

// NewRegistry returns a registry holding the chatgpt and wenxin providers.
// doer is used by providers that exchange credentials before a request; nil
// selects the shared client.
func NewRegistry(doer Doer) *Registry {
	r := &Registry{providers: make(map[Kind]Provider)}
	r.Register(NewChatGPT())
	r.Register(NewWenXin(doer))
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
}

// Get returns the provider called name.
func (r *Registry) Get(name string) (Provider, error) {
	k, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[k]
	if !ok {
		return nil, status.Wrap(status.E20012, "select provider", fmt.Errorf("%q: %w", name, status.ErrUnknownProvider))
	}
	return p, nil
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// sharedStreamingClient has no overall timeout; streams end through their
// context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// DefaultDoer returns the shared streaming client.
func DefaultDoer() Doer {
	return sharedStreamingClient
}

func setStreamHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
}
