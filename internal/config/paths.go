// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

const (
	appDirName      = "tiny-chat"
	settingFileName = "setting.json"
)

// ConfigDir returns the tinychat configuration directory.
//
// TINYCHAT_CONFIG_DIR wins when set. Otherwise it is %APPDATA%/tiny-chat on
// Windows, ~/tiny-chat on macOS and $XDG_CONFIG_HOME/tiny-chat (falling back
// to $HOME/tiny-chat) elsewhere.
func ConfigDir() (string, error) {
	if dir := os.Getenv("TINYCHAT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	return platformConfigDir(runtime.GOOS, os.Getenv)
}

func platformConfigDir(goos string, getenv func(string) string) (string, error) {
	switch goos {
	case "windows":
		if appData := getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName), nil
		}
	case "darwin":
		if home := getenv("HOME"); home != "" {
			return filepath.Join(home, appDirName), nil
		}
	default:
		if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName), nil
		}
		if home := getenv("HOME"); home != "" {
			return filepath.Join(home, appDirName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, appDirName), nil
}

// SettingPath returns the settings file inside dir.
func SettingPath(dir string) string {
	return filepath.Join(dir, settingFileName)
}

// EnsureDir creates dir if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
