// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/tinychat/internal/log"
	"github.com/jeranaias/tinychat/internal/util"
)

// =============================================================================
// USAGE STORAGE
// =============================================================================

// UsageStorage persists daily buckets as <dir>/<date>.json.
type UsageStorage struct {
	dir string
}

// NewUsageStorage creates the storage, making dir if needed.
func NewUsageStorage(dir string) (*UsageStorage, error) {
	if dir == "" {
		return nil, errors.New("usage directory is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	return &UsageStorage{dir: dir}, nil
}

// Dir returns the storage directory.
func (us *UsageStorage) Dir() string {
	return us.dir
}

func (us *UsageStorage) path(date string) string {
	return filepath.Join(us.dir, date+".json")
}

// Save writes a bucket.
func (us *UsageStorage) Save(day *DailyUsage) error {
	if day == nil {
		return nil
	}
	return util.WriteJSONFile(us.path(day.Date), day, 0600)
}

// Load reads the bucket for date.
func (us *UsageStorage) Load(date string) (*DailyUsage, error) {
	day := newDailyUsage(date)
	if err := util.ReadJSONFile(us.path(date), day); err != nil {
		return nil, err
	}
	if day.Providers == nil {
		day.Providers = make(map[string]TokenCount)
	}
	if day.Sessions == nil {
		day.Sessions = make(map[string]int)
	}
	return day, nil
}

// List returns the stored dates between from and to inclusive, ascending.
func (us *UsageStorage) List(from, to string) ([]string, error) {
	dates, err := us.dates()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range dates {
		if d >= from && d <= to {
			out = append(out, d)
		}
	}
	return out, nil
}

// DeleteBefore removes buckets dated before date and returns how many were
// removed.
func (us *UsageStorage) DeleteBefore(date string) (int, error) {
	dates, err := us.dates()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, d := range dates {
		if d >= date {
			continue
		}
		if err := os.Remove(us.path(d)); err != nil {
			log.Warn().Err(err).Str("date", d).Msg("could not remove usage bucket")
			continue
		}
		removed++
	}
	return removed, nil
}

// dates lists the valid bucket names in dir, sorted.
func (us *UsageStorage) dates() ([]string, error) {
	entries, err := os.ReadDir(us.dir)
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}
