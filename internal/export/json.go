// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"

	"github.com/jeranaias/tinychat/internal/model"
)

// JSONExporter writes the transcript in its stored form, so an export can be
// dropped back into the session directory. Options are ignored.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a transcript to indented JSON. Empty transcripts are
// allowed.
func (e *JSONExporter) Export(t *model.Transcript) ([]byte, error) {
	if t == nil {
		return nil, errors.New("transcript is nil")
	}
	return json.MarshalIndent(t, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
