// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is the single date codec used for every persisted date.
//
// It is written as integer epoch milliseconds. Reading also accepts RFC 3339
// strings, which older session files contain.
type Timestamp struct {
	t time.Time
}

// Now returns the current time truncated to millisecond precision.
func Now() Timestamp {
	return At(time.Now())
}

// At wraps t, truncated to millisecond precision.
func At(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t: time.UnixMilli(t.UnixMilli())}
}

// FromMillis builds a Timestamp from epoch milliseconds. Zero maps to the
// zero Timestamp.
func FromMillis(ms int64) Timestamp {
	if ms == 0 {
		return Timestamp{}
	}
	return Timestamp{t: time.UnixMilli(ms)}
}

// Time returns the wrapped time.
func (ts Timestamp) Time() time.Time { return ts.t }

// Millis returns epoch milliseconds, or 0 for the zero value.
func (ts Timestamp) Millis() int64 {
	if ts.t.IsZero() {
		return 0
	}
	return ts.t.UnixMilli()
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Before reports whether ts is earlier than other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

// Equal reports whether both timestamps denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

// String formats the timestamp for display.
func (ts Timestamp) String() string {
	if ts.t.IsZero() {
		return "-"
	}
	return ts.t.Local().Format("2006-01-02 15:04")
}

// MarshalJSON writes epoch milliseconds.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(ts.Millis(), 10)), nil
}

// UnmarshalJSON reads epoch milliseconds, an RFC 3339 string or null.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*ts = Timestamp{}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*ts = FromMillis(ms)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*ts = At(t)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	ms, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		ms = int64(f)
	}
	*ts = FromMillis(ms)
	return nil
}
