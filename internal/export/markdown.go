// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/tinychat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown. Message bodies are written as
// is since replies are already markdown.
func (e *MarkdownExporter) Export(t *model.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Name))
		fmt.Fprintf(&sb, "session: %s\n", t.ID)
		if !t.CreateTime.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", t.CreateTime.Time().Format(time.RFC3339))
		}
		if !t.UpdateTime.IsZero() {
			fmt.Fprintf(&sb, "updated: %s\n", t.UpdateTime.Time().Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: tinychat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Name))

	for i, msg := range t.Messages {
		if e.options.IncludeTimestamps && !msg.Date.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", roleLabel(msg.Role), formatTimestamp(msg.Date))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", roleLabel(msg.Role))
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes values that would otherwise change the front matter.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
