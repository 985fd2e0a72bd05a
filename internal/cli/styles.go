// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for every tinychat command.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set.
// FORCE_COLOR overrides the detection.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/tinychat/internal/session"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// HeaderStyle is used for table headers
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(14)

	// ValueStyle is used for regular values and text
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// PromptStyle is used for the chat prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// AssistantStyle labels assistant messages
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderConditional renders text with style if colors are enabled,
// otherwise returns the text unmodified.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// RenderSeparator renders a horizontal separator line. Default width is 60.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return RenderConditional(SeparatorStyle, strings.Repeat("-", w))
}

// RenderLabel renders a fixed-width field label.
func RenderLabel(label string) string {
	if !ColorsEnabled() {
		return label + strings.Repeat(" ", max(0, 14-len(label)))
	}
	return LabelStyle.Render(label)
}

// RenderState renders a session sync state with a matching color.
func RenderState(st session.State, sub session.SubStatus) string {
	text := string(st)
	if sub != session.SubNone {
		text += "/" + string(sub)
	}
	switch st {
	case session.StateSync:
		return RenderConditional(SuccessStyle, text)
	case session.StateUnsync:
		return RenderConditional(WarningStyle, text)
	case session.StateError:
		return RenderConditional(ErrorStyle, text)
	default:
		return RenderConditional(DimStyle, text)
	}
}
