// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"
)

// charsPerToken is the rough ratio used to estimate tokens from text size.
const charsPerToken = 4

// =============================================================================
// TYPES
// =============================================================================

// Reply describes one finished provider request.
type Reply struct {
	Session     string
	Provider    string
	PromptChars int
	ReplyChars  int
	Duration    time.Duration
	Failed      bool
}

// TokenCount tracks estimated input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns input plus output.
func (t TokenCount) Total() int { return t.Input + t.Output }

func (t *TokenCount) add(o TokenCount) {
	t.Input += o.Input
	t.Output += o.Output
}

// DailyUsage is the bucket for one local day.
type DailyUsage struct {
	Date      string                `json:"date"` // 2006-01-02
	Replies   int                   `json:"replies"`
	Failed    int                   `json:"failed"`
	Tokens    TokenCount            `json:"tokens"`
	Duration  time.Duration         `json:"duration"`
	Providers map[string]TokenCount `json:"providers"`
	Sessions  map[string]int        `json:"sessions"` // replies per session
}

func newDailyUsage(date string) *DailyUsage {
	return &DailyUsage{
		Date:      date,
		Providers: make(map[string]TokenCount),
		Sessions:  make(map[string]int),
	}
}

// UsageTrends aggregates the buckets of a range of days.
type UsageTrends struct {
	Days      int                   `json:"days"`
	Replies   int                   `json:"replies"`
	Failed    int                   `json:"failed"`
	Tokens    TokenCount            `json:"tokens"`
	Duration  time.Duration         `json:"duration"`
	Providers map[string]TokenCount `json:"providers"`
	Daily     []DailyUsage          `json:"daily"`
}

// EstimateTokens converts a character count to an estimated token count,
// rounding up.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker counts replies into daily buckets and persists each change.
// It is safe for concurrent use.
type UsageTracker struct {
	mu      sync.Mutex
	storage *UsageStorage
	today   *DailyUsage

	// now is replaced in tests.
	now func() time.Time
}

// NewUsageTracker creates a tracker storing its buckets in dir.
func NewUsageTracker(dir string) (*UsageTracker, error) {
	storage, err := NewUsageStorage(dir)
	if err != nil {
		return nil, err
	}
	return &UsageTracker{storage: storage, now: time.Now}, nil
}

// Storage returns the underlying bucket storage.
func (ut *UsageTracker) Storage() *UsageStorage {
	return ut.storage
}

// Record counts r into today's bucket and saves it.
func (ut *UsageTracker) Record(r Reply) error {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	day := ut.bucketLocked()
	tokens := TokenCount{Input: EstimateTokens(r.PromptChars), Output: EstimateTokens(r.ReplyChars)}

	day.Replies++
	if r.Failed {
		day.Failed++
	}
	day.Tokens.add(tokens)
	day.Duration += r.Duration

	provider := r.Provider
	if provider == "" {
		provider = "unknown"
	}
	pt := day.Providers[provider]
	pt.add(tokens)
	day.Providers[provider] = pt

	if r.Session != "" {
		day.Sessions[r.Session]++
	}

	return ut.storage.Save(day)
}

// bucketLocked returns today's bucket, loading it from disk on the first
// call of a day.
func (ut *UsageTracker) bucketLocked() *DailyUsage {
	date := dateKey(ut.now())
	if ut.today != nil && ut.today.Date == date {
		return ut.today
	}
	day, err := ut.storage.Load(date)
	if err != nil {
		day = newDailyUsage(date)
	}
	ut.today = day
	return day
}

// Today returns a copy of today's bucket.
func (ut *UsageTracker) Today() DailyUsage {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return copyDay(ut.bucketLocked())
}

// Trends aggregates the last days days, today included. Days without
// activity are left out of Daily.
func (ut *UsageTracker) Trends(days int) *UsageTrends {
	if days < 1 {
		days = 1
	}
	ut.mu.Lock()
	now := ut.now()
	ut.mu.Unlock()

	to := dateKey(now)
	from := dateKey(now.AddDate(0, 0, -(days - 1)))

	trends := &UsageTrends{
		Days:      days,
		Providers: make(map[string]TokenCount),
		Daily:     make([]DailyUsage, 0),
	}

	dates, err := ut.storage.List(from, to)
	if err != nil {
		return trends
	}
	for _, date := range dates {
		day, err := ut.storage.Load(date)
		if err != nil {
			continue
		}
		trends.Replies += day.Replies
		trends.Failed += day.Failed
		trends.Tokens.add(day.Tokens)
		trends.Duration += day.Duration
		for name, tc := range day.Providers {
			sum := trends.Providers[name]
			sum.add(tc)
			trends.Providers[name] = sum
		}
		trends.Daily = append(trends.Daily, *day)
	}

	sort.Slice(trends.Daily, func(i, j int) bool {
		return trends.Daily[i].Date < trends.Daily[j].Date
	})
	return trends
}

// Prune removes buckets older than keepDays days.
func (ut *UsageTracker) Prune(keepDays int) (int, error) {
	ut.mu.Lock()
	now := ut.now()
	ut.mu.Unlock()
	return ut.storage.DeleteBefore(dateKey(now.AddDate(0, 0, -keepDays)))
}

// =============================================================================
// HELPERS
// =============================================================================

func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func copyDay(src *DailyUsage) DailyUsage {
	dst := *src
	dst.Providers = make(map[string]TokenCount, len(src.Providers))
	for k, v := range src.Providers {
		dst.Providers[k] = v
	}
	dst.Sessions = make(map[string]int, len(src.Sessions))
	for k, v := range src.Sessions {
		dst.Sessions[k] = v
	}
	return dst
}
