// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

// UNICODE: everything here counts runes or display cells, never bytes.

// TruncateRunes truncates s to maxRunes characters, ending in "..." when
// anything was cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateRunesNoEllipsis truncates s to maxRunes characters.
func TruncateRunesNoEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// TailRunes returns the last n characters of s.
func TailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// NormalizeTitle folds whitespace runs (newlines included) into single spaces,
// trims surrounding quotes and applies NFC so generated titles compare and
// display consistently.
func NormalizeTitle(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, "\"'“”「」 ")
}

// PadRight pads s with spaces to width display cells, truncating with an
// ellipsis when it is wider. Wide (CJK) characters count as two cells.
func PadRight(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// DisplayWidth returns the number of terminal cells s occupies.
func DisplayWidth(s string) int {
	return runewidth.StringWidth(s)
}
