// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// STREAM CONSTANTS
// =============================================================================

// MaxLineSize is the largest line accepted from a reply stream (64KB).
const MaxLineSize = 64 * 1024

// doneSentinel ends a stream early.
var doneSentinel = []byte("[DONE]")

// ErrLineTooLong is returned when a stream line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("stream line too long")

// =============================================================================
// LINE READER
// =============================================================================

// LineReader splits a reply stream into non-empty lines.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a line reader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// Next returns the next non-empty line without its line ending. It returns
// io.EOF when the stream ends.
func (l *LineReader) Next() ([]byte, error) {
	for {
		line, err := l.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			buf := append([]byte(nil), line...)
			for errors.Is(err, bufio.ErrBufferFull) {
				line, err = l.reader.ReadSlice('\n')
				buf = append(buf, line...)
				if len(buf) > MaxLineSize {
					return nil, fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, MaxLineSize)
				}
			}
			line = buf
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		trimmed := bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(trimmed)) > 0 {
			return append([]byte(nil), trimmed...), nil
		}
		if err != nil {
			return nil, io.EOF
		}
	}
}

// =============================================================================
// DECODING
// =============================================================================

// Decode reads body line by line and hands every decoded fragment to fn.
//
// The provider's marker is stripped from each line before decoding. A
// "[DONE]" payload ends the stream without error. An error from the
// provider's decoder or from fn stops reading and is returned.
func Decode(ctx context.Context, body io.Reader, p Provider, fn func(Fragment) error) error {
	reader := NewLineReader(body)
	marker := []byte(p.Marker())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}

		payload := line
		if len(marker) > 0 && bytes.HasPrefix(line, marker) {
			payload = line[len(marker):]
		}
		payload = bytes.TrimSpace(payload)

		if bytes.Equal(payload, doneSentinel) {
			return nil
		}

		frag, err := p.DecodeLine(payload)
		if err != nil {
			return err
		}
		if err := fn(frag); err != nil {
			return err
		}
	}
}
