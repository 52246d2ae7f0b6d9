// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package timeline

import (
	"fmt"
	"net/url"
	"sort"
)

// ResourceTiming is one waterfall row derived from a capture entry. Offsets
// are relative to the capture start and are computed exactly once; display
// filtering and sorting never re-derive them.
type ResourceTiming struct {
	URL           string  `json:"url"`
	Method        string  `json:"method"`
	MimeCategory  string  `json:"mime_category"`
	Status        int     `json:"status"`
	SizeBytes     int64   `json:"size_bytes"`
	DurationMs    float64 `json:"duration_ms"`
	StartOffsetMs float64 `json:"start_offset_ms"`
	EndOffsetMs   float64 `json:"end_offset_ms"`
	Domain        string  `json:"domain"`
}

// Result is a reconstructed waterfall. Warnings report entries that were
// skipped as malformed; a capture with zero valid entries is still a valid,
// empty result.
type Result struct {
	Entries         []ResourceTiming `json:"entries"`
	Warnings        []string         `json:"warnings,omitempty"`
	TotalDurationMs float64          `json:"total_duration_ms"`
}

// Reconstruct converts a capture into an ordered waterfall. Entries are
// modeled as sequential: each starts where the previous one ended. Per-entry
// duration is the sum of its positive timing phases; a phase value of zero
// or less means not-applicable, never negative time.
func Reconstruct(capture *Capture) *Result {
	result := &Result{Entries: make([]ResourceTiming, 0, len(capture.Entries))}

	var cursor float64
	for i, entry := range capture.Entries {
		if entry.URL == "" || entry.Method == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("entry %d skipped: missing url or method", i))
			continue
		}

		duration := 0.0
		for _, phase := range entry.Timings {
			if phase > 0 {
				duration += phase
			}
		}

		rt := ResourceTiming{
			URL:           entry.URL,
			Method:        entry.Method,
			MimeCategory:  MimeCategory(entry.MimeType),
			Status:        entry.Status,
			SizeBytes:     entry.SizeBytes,
			DurationMs:    duration,
			StartOffsetMs: cursor,
			EndOffsetMs:   cursor + duration,
			Domain:        domainOf(entry.URL),
		}
		cursor = rt.EndOffsetMs
		result.Entries = append(result.Entries, rt)
	}

	result.TotalDurationMs = cursor
	return result
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// FilterByMime returns the waterfall rows in the given MIME category,
// offsets untouched. An empty category returns all rows.
func FilterByMime(entries []ResourceTiming, category string) []ResourceTiming {
	if category == "" {
		out := make([]ResourceTiming, len(entries))
		copy(out, entries)
		return out
	}
	var out []ResourceTiming
	for _, e := range entries {
		if e.MimeCategory == category {
			out = append(out, e)
		}
	}
	return out
}

// SortKey selects a display ordering for waterfall rows.
type SortKey string

const (
	SortByDuration SortKey = "duration"
	SortBySize     SortKey = "size"
	SortByDomain   SortKey = "domain"
)

// SortBy returns a copy of the rows ordered by the given key, descending
// for duration and size, ascending for domain. Offsets are untouched; an
// unknown key preserves capture order.
func SortBy(entries []ResourceTiming, key SortKey) []ResourceTiming {
	out := make([]ResourceTiming, len(entries))
	copy(out, entries)

	switch key {
	case SortByDuration:
		sort.SliceStable(out, func(i, j int) bool { return out[i].DurationMs > out[j].DurationMs })
	case SortBySize:
		sort.SliceStable(out, func(i, j int) bool { return out[i].SizeBytes > out[j].SizeBytes })
	case SortByDomain:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	}
	return out
}
