// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// ErrUnknownKey is returned for dot paths that do not name a setting.
var ErrUnknownKey = errors.New("unknown setting")

func (s Settings) tree() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Lookup returns the value at a dot path such as "model.common.defaultModel".
// Group paths return the nested object.
func (s Settings) Lookup(key string) (any, error) {
	m, err := s.tree()
	if err != nil {
		return nil, err
	}

	var cur any = m
	for _, part := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if cur, ok = obj[part]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	return cur, nil
}

// With returns a copy of s with the leaf at key set from raw. raw is parsed
// according to the type of the current value.
func (s Settings) With(key, raw string) (Settings, error) {
	m, err := s.tree()
	if err != nil {
		return s, err
	}

	parts := strings.Split(key, ".")
	obj := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			return s, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		obj = next
	}

	leaf := parts[len(parts)-1]
	current, ok := obj[leaf]
	if !ok {
		// omitempty leaves are absent from the tree while empty.
		if !isOptionalKey(key) {
			return s, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		current = ""
	}

	switch current.(type) {
	case bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return s, fmt.Errorf("%s expects true or false: %w", key, err)
		}
		obj[leaf] = v
	case float64:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return s, fmt.Errorf("%s expects an integer: %w", key, err)
		}
		obj[leaf] = v
	case string:
		obj[leaf] = raw
	default:
		return s, fmt.Errorf("%s is a group, set one of its keys instead", key)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return s, err
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return s, err
	}
	return out, nil
}

func isOptionalKey(key string) bool {
	switch key {
	case "model.wenxin.url", "model.chatgpt.model", "general.windowPosition.width", "general.windowPosition.height":
		return true
	}
	return false
}

// Keys lists every leaf dot path in sorted order.
func (s Settings) Keys() []string {
	m, err := s.tree()
	if err != nil {
		return nil
	}
	var keys []string
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		obj, ok := v.(map[string]any)
		if !ok {
			keys = append(keys, prefix)
			return
		}
		for k, child := range obj {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			walk(p, child)
		}
	}
	walk("", m)
	sort.Strings(keys)
	return keys
}
