// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// ExportTOML writes s as a TOML document, for backups and hand editing.
func ExportTOML(w io.Writer, s Settings) error {
	if err := toml.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}

// ImportTOML reads a TOML settings document over the defaults and validates
// it.
func ImportTOML(path string) (Settings, error) {
	s := Default()
	meta, err := toml.DecodeFile(path, &s)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("unknown settings in %s: %v", path, undecoded)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
