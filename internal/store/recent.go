// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store retains observed traffic for the pull interfaces: a bounded
// in-memory recent window for live investigation and a SQLite archive for
// anything older.
package store

import (
	"sync"

	"grimm.is/burrow/internal/traffic"
)

// DefaultRecentCap bounds the in-memory recent window.
const DefaultRecentCap = 1000

// RecentWindow keeps the most recent log entries and detections in memory,
// oldest evicted first.
type RecentWindow struct {
	mu         sync.RWMutex
	entries    []*traffic.LogEntry
	detections []*traffic.TunnelDetection
	cap        int
}

// NewRecentWindow creates a window bounded to capacity entries; zero or
// negative means DefaultRecentCap.
func NewRecentWindow(capacity int) *RecentWindow {
	if capacity <= 0 {
		capacity = DefaultRecentCap
	}
	return &RecentWindow{cap: capacity}
}

// AddEntry appends an entry, evicting the oldest at capacity.
func (w *RecentWindow) AddEntry(entry *traffic.LogEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) >= w.cap {
		w.entries = w.entries[1:]
	}
	w.entries = append(w.entries, entry)
}

// AddDetection appends a detection, evicting the oldest at capacity.
func (w *RecentWindow) AddDetection(det *traffic.TunnelDetection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.detections) >= w.cap {
		w.detections = w.detections[1:]
	}
	w.detections = append(w.detections, det)
}

// Entries returns a page of entries, newest first.
func (w *RecentWindow) Entries(offset, limit int) []*traffic.LogEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(w.entries)
	out := make([]*traffic.LogEntry, 0, limit)
	for i := n - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, w.entries[i])
	}
	return out
}

// Detections returns a page of detections at or above minConfidence,
// newest first.
func (w *RecentWindow) Detections(minConfidence traffic.Confidence, offset, limit int) []*traffic.TunnelDetection {
	w.mu.RLock()
	defer w.mu.RUnlock()

	matched := 0
	out := make([]*traffic.TunnelDetection, 0, limit)
	for i := len(w.detections) - 1; i >= 0 && len(out) < limit; i-- {
		det := w.detections[i]
		if det.Confidence < minConfidence {
			continue
		}
		if matched < offset {
			matched++
			continue
		}
		out = append(out, det)
	}
	return out
}

// Len returns the number of retained entries.
func (w *RecentWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
