// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/tinychat/internal/model"
)

// TextExporter exports transcripts to plain text.
type TextExporter struct {
	options *Options
}

// NewTextExporter creates a new plain text exporter.
func NewTextExporter(opts *Options) *TextExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TextExporter{options: opts}
}

// Export converts a transcript to plain text.
func (e *TextExporter) Export(t *model.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(t.Name)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n")
	if e.options.IncludeMetadata {
		if ts := formatTimestamp(t.CreateTime); ts != "" {
			fmt.Fprintf(&sb, "Created:  %s\n", ts)
		}
		fmt.Fprintf(&sb, "Messages: %d\n", len(t.Messages))
	}
	sb.WriteString("\n")

	for _, msg := range t.Messages {
		label := roleLabel(msg.Role)
		if e.options.IncludeTimestamps && !msg.Date.IsZero() {
			label += " (" + formatTimestamp(msg.Date) + ")"
		}
		sb.WriteString(label)
		sb.WriteString(":\n")
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")
	}
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for plain text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for plain text.
func (e *TextExporter) MimeType() string {
	return "text/plain; charset=utf-8"
}
