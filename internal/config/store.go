// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/notify"
	"github.com/jeranaias/tinychat/internal/util"
)

// =============================================================================
// SETTINGS STORE
// =============================================================================

// Store caches the settings record and persists it to setting.json.
type Store struct {
	path     string
	notifier notify.Notifier

	mu    sync.RWMutex
	cache *Settings
}

// NewStore creates a store for the settings file inside dir. The notifier may
// be nil.
func NewStore(dir string, notifier notify.Notifier) *Store {
	return &Store{path: SettingPath(dir), notifier: notifier}
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file into the cache, merging it over the defaults
// so missing keys keep their default values.
//
// If the file cannot be read or decoded, the defaults are written in its
// place (a corrupt file is kept as setting.json.bak) and returned. The error
// describes the failure but the returned settings are always usable.
func (s *Store) Load() (Settings, error) {
	loaded, err := readSettings(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("settings unreadable, restoring defaults")
			if rerr := os.Rename(s.path, s.path+".bak"); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.Warn().Err(rerr).Msg("could not keep a copy of the unreadable settings")
			}
		}

		def := Default()
		s.setCache(def)
		if werr := util.WriteJSONFile(s.path, def, 0600); werr != nil {
			return def, fmt.Errorf("can not write settings file: %w", werr)
		}
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, err
	}

	s.setCache(loaded)
	return loaded, nil
}

// readSettings decodes path over the defaults and normalises the result.
func readSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if reset := cfg.normalize(); len(reset) > 0 {
		log.Warn().Strs("fields", reset).Msg("invalid settings replaced with defaults")
	}
	return cfg, nil
}

// Get returns the cached settings, loading them on first use.
func (s *Store) Get() Settings {
	s.mu.RLock()
	if s.cache != nil {
		v := *s.cache
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()

	v, err := s.Load()
	if err != nil {
		log.Warn().Err(err).Msg("using default settings")
	}
	return v
}

// Set validates and persists a full settings record, then updates the cache
// and broadcasts settings-updated. The cache is unchanged when writing fails.
func (s *Store) Set(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}
	if err := util.WriteJSONFile(s.path, next, 0600); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("settings write failed")
		return s.Get(), fmt.Errorf("write error, can not access settings file: %w", err)
	}

	s.setCache(next)
	s.publish(next)
	return next, nil
}

// Update applies fn to a copy of the current settings and saves the result.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	next := s.Get()
	fn(&next)
	return s.Set(next)
}

// Reload rereads the file and reports whether the cached settings changed.
// Unlike Load it never rewrites the file.
func (s *Store) Reload() (bool, error) {
	loaded, err := readSettings(s.path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed := s.cache == nil || *s.cache != loaded
	v := loaded
	s.cache = &v
	s.mu.Unlock()

	if changed {
		s.publish(loaded)
	}
	return changed, nil
}

// Effective returns the settings with environment overrides applied. The
// overrides are never persisted.
//
// Supported overrides:
//   - TINYCHAT_OPENAI_TOKEN: model.chatgpt.token
//   - TINYCHAT_OPENAI_PROXY: model.chatgpt.proxy.address (enables the proxy)
//   - TINYCHAT_WENXIN_TOKEN: model.wenxin.accessToken
//   - TINYCHAT_DEFAULT_MODEL: model.common.defaultModel
func (s *Store) Effective() Settings {
	v := s.Get()
	v.ApplyEnvOverrides()
	return v
}

// ApplyEnvOverrides overlays the TINYCHAT_* environment variables.
func (s *Settings) ApplyEnvOverrides() {
	if token := os.Getenv("TINYCHAT_OPENAI_TOKEN"); token != "" {
		s.Model.ChatGPT.Token = token
	}
	if proxy := os.Getenv("TINYCHAT_OPENAI_PROXY"); proxy != "" {
		s.Model.ChatGPT.Proxy.Address = proxy
		s.Model.ChatGPT.Proxy.UseProxy = true
	}
	if token := os.Getenv("TINYCHAT_WENXIN_TOKEN"); token != "" {
		s.Model.WenXin.AccessToken = token
	}
	if m := strings.TrimSpace(os.Getenv("TINYCHAT_DEFAULT_MODEL")); oneOf(m, validProviders) {
		s.Model.Common.DefaultModel = m
	}
}

func (s *Store) setCache(v Settings) {
	s.mu.Lock()
	s.cache = &v
	s.mu.Unlock()
}

func (s *Store) publish(v Settings) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Event{Type: notify.EventSettingsUpdated, Data: v.Redacted()})
}

// Redacted returns a copy with credentials masked, for logs and broadcasts.
func (s Settings) Redacted() Settings {
	s.Model.ChatGPT.Token = mask(s.Model.ChatGPT.Token)
	s.Model.ChatGPT.Proxy.Param = mask(s.Model.ChatGPT.Proxy.Param)
	s.Model.WenXin.APIKey = mask(s.Model.WenXin.APIKey)
	s.Model.WenXin.APISecret = mask(s.Model.WenXin.APISecret)
	s.Model.WenXin.AccessToken = mask(s.Model.WenXin.AccessToken)
	return s
}

// WithSecretsFrom restores every credential of s that still holds the
// masked value of the same credential in current. Settings read back from a
// Redacted copy can then be saved without losing the real secrets.
func (s Settings) WithSecretsFrom(current Settings) Settings {
	keep := func(dst *string, cur string) {
		if *dst != "" && *dst == mask(cur) {
			*dst = cur
		}
	}
	keep(&s.Model.ChatGPT.Token, current.Model.ChatGPT.Token)
	keep(&s.Model.ChatGPT.Proxy.Param, current.Model.ChatGPT.Proxy.Param)
	keep(&s.Model.WenXin.APIKey, current.Model.WenXin.APIKey)
	keep(&s.Model.WenXin.APISecret, current.Model.WenXin.APISecret)
	keep(&s.Model.WenXin.AccessToken, current.Model.WenXin.AccessToken)
	return s
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	r := []rune(secret)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "****" + string(r[len(r)-4:])
}
