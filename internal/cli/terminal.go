// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for the tinychat CLI.
//
// Interactive terminals get colors and rendered markdown. Piped output gets
// plain text, and NO_COLOR is respected.

package cli

import (
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return isTerminalWriter(os.Stdout)
}

// isTerminalWriter reports whether w writes to a terminal. Buffers and
// pipes never do, so rendered markdown stays out of captured output.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// TERMINAL WIDTH
// =============================================================================

const (
	// DefaultTerminalWidth wraps rendered replies when stdout has no size.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps narrow windows readable.
	MinTerminalWidth = 40
)

// GetTerminalWidth returns the width replies are wrapped to.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled reports whether styles are applied. NO_COLOR wins over
// FORCE_COLOR; without either, colors follow whether stdout is a terminal.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// ForceColorsEnabled overrides color detection. Tests use it to get plain
// output regardless of how they are run.
func ForceColorsEnabled(enabled bool) {
	colorsEnabledOnce.Do(func() {})
	colorsEnabled = enabled
}

// GetColorProfile returns the profile lipgloss renders with.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
