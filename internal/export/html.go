// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/tinychat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page. Message bodies
// are rendered from markdown; raw HTML inside messages is dropped.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options: opts,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t *model.Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(t.Name))
	sb.WriteString("    <meta name=\"generator\" content=\"tinychat\">\n")
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n<body>\n<div class=\"container\">\n")

	fmt.Fprintf(&sb, "<header>\n<h1>%s</h1>\n", html.EscapeString(t.Name))
	if e.options.IncludeMetadata {
		sb.WriteString("<div class=\"metadata\">")
		if ts := formatTimestamp(t.CreateTime); ts != "" {
			fmt.Fprintf(&sb, "<span><strong>Created:</strong> %s</span> ", ts)
		}
		fmt.Fprintf(&sb, "<span><strong>Messages:</strong> %d</span>", len(t.Messages))
		sb.WriteString("</div>\n")
	}
	sb.WriteString("</header>\n<main>\n")

	for _, msg := range t.Messages {
		body, err := e.renderContent(msg.Content)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "<div class=\"message %s\">\n<div class=\"message-header\"><span class=\"role\">%s</span>",
			html.EscapeString(string(msg.Role)), html.EscapeString(roleLabel(msg.Role)))
		if e.options.IncludeTimestamps && !msg.Date.IsZero() {
			fmt.Fprintf(&sb, " <span class=\"timestamp\">%s</span>", formatTimestamp(msg.Date))
		}
		sb.WriteString("</div>\n<div class=\"message-content\">\n")
		sb.WriteString(body)
		sb.WriteString("</div>\n</div>\n")
	}

	sb.WriteString("</main>\n")
	fmt.Fprintf(&sb, "<footer>Exported from tinychat on %s</footer>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

func (e *HTMLExporter) renderContent(content string) (string, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}
	return buf.String(), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html; charset=utf-8"
}

const pageCSS = `    <style>
        :root { --bg: #ffffff; --fg: #1f2328; --muted: #656d76; --user: #eef6ff; --assistant: #f6f8fa; --border: #d0d7de; }
        @media (prefers-color-scheme: dark) {
            :root { --bg: #0d1117; --fg: #e6edf3; --muted: #8d96a0; --user: #132339; --assistant: #161b22; --border: #30363d; }
        }
        body { background: var(--bg); color: var(--fg); font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; line-height: 1.6; margin: 0; }
        .container { max-width: 860px; margin: 0 auto; padding: 24px; }
        header { border-bottom: 1px solid var(--border); margin-bottom: 24px; }
        .metadata { color: var(--muted); font-size: 0.9em; padding-bottom: 12px; }
        .message { border: 1px solid var(--border); border-radius: 8px; margin-bottom: 16px; padding: 12px 16px; }
        .message.user { background: var(--user); }
        .message.assistant { background: var(--assistant); }
        .message-header { font-weight: 600; margin-bottom: 8px; }
        .timestamp { color: var(--muted); font-weight: normal; font-size: 0.85em; margin-left: 8px; }
        pre { background: rgba(127, 127, 127, 0.12); border-radius: 6px; overflow-x: auto; padding: 12px; }
        code { font-family: ui-monospace, SFMono-Regular, Menlo, Consolas, monospace; font-size: 0.9em; }
        table { border-collapse: collapse; }
        th, td { border: 1px solid var(--border); padding: 4px 8px; }
        footer { color: var(--muted); font-size: 0.85em; margin-top: 32px; text-align: center; }
    </style>
`
