// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/tinychat/internal/model"
	"github.com/jeranaias/tinychat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a transcript to one document format.
type Exporter interface {
	// Export returns the document for t.
	Export(t *model.Transcript) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the document.
	MimeType() string
}

// ErrEmptyTranscript is returned for transcripts without messages, except by
// the JSON exporter.
var ErrEmptyTranscript = errors.New("transcript has no messages")

// ErrUnknownFormat is returned by ForFormat.
var ErrUnknownFormat = errors.New("unsupported export format")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds the session name, dates and message count.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message dates.
	IncludeTimestamps bool

	// Now stamps the export date. Nil uses time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// =============================================================================
// FORMATS
// =============================================================================

var constructors = map[string]func(*Options) Exporter{
	"json":     func(o *Options) Exporter { return NewJSONExporter(o) },
	"md":       func(o *Options) Exporter { return NewMarkdownExporter(o) },
	"markdown": func(o *Options) Exporter { return NewMarkdownExporter(o) },
	"html":     func(o *Options) Exporter { return NewHTMLExporter(o) },
	"txt":      func(o *Options) Exporter { return NewTextExporter(o) },
	"text":     func(o *Options) Exporter { return NewTextExporter(o) },
}

// Formats lists the accepted format names.
func Formats() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForFormat returns the exporter for a format name such as "md".
func ForFormat(name string, opts *Options) (Exporter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (use one of %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
	return ctor(opts), nil
}

// =============================================================================
// FILES
// =============================================================================

// FileName returns a file name for t in the exporter's format.
func FileName(t *model.Transcript, exp Exporter) string {
	stamp := t.UpdateTime.Time()
	if t.UpdateTime.IsZero() {
		stamp = time.Now()
	}
	return fmt.Sprintf("tinychat_%s_%s%s", sanitizeFilename(t.Name), stamp.Format("20060102_150405"), exp.FileExtension())
}

// WriteFile exports t into dir and returns the written path.
func WriteFile(t *model.Transcript, exp Exporter, dir string) (string, error) {
	content, err := exp.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, FileName(t, exp))
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(s string) string {
	s = util.TruncateRunesNoEllipsis(strings.TrimSpace(s), 50)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

func validate(t *model.Transcript) error {
	if t == nil {
		return errors.New("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return ErrEmptyTranscript
	}
	return nil
}

// formatTimestamp formats a timestamp for display, or "" when unset.
func formatTimestamp(ts model.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Time().Local().Format("2006-01-02 15:04:05")
}

// roleLabel returns the heading used for a message role.
func roleLabel(r model.Role) string {
	if r == "" {
		return "Unknown"
	}
	return r.DisplayName()
}
