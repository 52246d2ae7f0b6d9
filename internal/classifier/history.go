// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// historySize is the capacity of each per-IP ring buffer. Big enough for
// rate indicators over a short window, small enough to keep the arena cheap.
const historySize = 64

// History is a fixed-size ring of recent requests from one source IP. It is
// mutated only by the pipeline worker that owns the IP's partition, so no
// locking is needed here.
type History struct {
	times [historySize]time.Time
	paths [historySize]string
	next  int
	count int
}

// Record appends one observation to the ring, evicting the oldest.
func (h *History) Record(ts time.Time, path string) {
	h.times[h.next] = ts
	h.paths[h.next] = path
	h.next = (h.next + 1) % historySize
	if h.count < historySize {
		h.count++
	}
}

// CountSince returns how many recorded requests fall inside the window
// ending at now, and how many distinct paths they used.
func (h *History) CountSince(now time.Time, window time.Duration) (total, distinctPaths int) {
	cutoff := now.Add(-window)
	seen := make(map[string]struct{}, 8)
	for i := 0; i < h.count; i++ {
		if h.times[i].After(cutoff) {
			total++
			seen[h.paths[i]] = struct{}{}
		}
	}
	return total, len(seen)
}

// arena bounds per-IP state with least-recently-used eviction so a scan
// across many source addresses cannot grow memory without limit.
type arena struct {
	cache *lru.Cache[string, *History]
}

func newArena(maxIPs int) (*arena, error) {
	cache, err := lru.New[string, *History](maxIPs)
	if err != nil {
		return nil, err
	}
	return &arena{cache: cache}, nil
}

// get returns the history for ip, creating it on first sight.
func (a *arena) get(ip string) *History {
	if h, ok := a.cache.Get(ip); ok {
		return h
	}
	h := &History{}
	a.cache.Add(ip, h)
	return h
}
