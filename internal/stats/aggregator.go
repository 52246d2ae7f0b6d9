// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stats maintains rolling counters over the live log stream and
// derives StatsSnapshot values on a fixed cadence or on demand. The rolling
// window is owned exclusively by the aggregator and fed only by its own
// consumption of bus events.
package stats

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/burrow/internal/bus"
	"grimm.is/burrow/internal/logging"
	"grimm.is/burrow/internal/traffic"
)

// DefaultWindowSize is the count bound of the rolling window.
const DefaultWindowSize = 10000

// TopIPLimit caps the ranked top-talkers list in a snapshot.
const TopIPLimit = 10

type record struct {
	id       string
	ip       string
	status   int
	rtMs     float64
	denied   bool
	detected bool
	ts       time.Time
}

// Aggregator consumes log events from the bus and keeps a count-bounded
// rolling window, deduplicated by entry ID.
type Aggregator struct {
	mu     sync.Mutex
	window []record
	seen   map[string]struct{}
	max    int

	broadcaster *bus.Broadcaster
	logger      *logging.Logger
	cadence     time.Duration
	geo         *geoip2.Reader
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWindowSize overrides the rolling window's count bound.
func WithWindowSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.max = n
		}
	}
}

// WithCadence overrides the interval between published stats_update events.
func WithCadence(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.cadence = d
		}
	}
}

// WithGeoIP attaches a MaxMind database used to annotate top IPs with a
// country code. The aggregator works identically without one.
func WithGeoIP(reader *geoip2.Reader) Option {
	return func(a *Aggregator) { a.geo = reader }
}

// New creates an Aggregator publishing to and consuming from b.
func New(b *bus.Broadcaster, logger *logging.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	a := &Aggregator{
		seen:        make(map[string]struct{}),
		max:         DefaultWindowSize,
		broadcaster: b,
		logger:      logger,
		cadence:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run subscribes to the bus and aggregates until ctx is done. Snapshots are
// published on the configured cadence.
func (a *Aggregator) Run(ctx context.Context) {
	sub := a.broadcaster.Subscribe()
	defer a.broadcaster.Unsubscribe(sub)

	events := make(chan bus.Event)
	go func() {
		defer close(events)
		for {
			ev, ok := sub.Receive()
			if !ok {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(a.cadence)
	defer ticker.Stop()

	a.logger.Info("stats aggregator started", "window", a.max, "cadence", a.cadence)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == bus.EventLog && ev.Entry != nil {
				a.Observe(ev.Entry)
			}
		case <-ticker.C:
			snap := a.Snapshot()
			a.broadcaster.Publish(bus.NewStatsEvent(&snap))
		case <-ctx.Done():
			return
		}
	}
}

// Observe adds one entry to the window. Observing the same entry ID twice
// is a no-op, so replayed or duplicated events never skew counters.
func (a *Aggregator) Observe(entry *traffic.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[entry.ID]; dup {
		return
	}

	if len(a.window) >= a.max {
		delete(a.seen, a.window[0].id)
		a.window = a.window[1:]
	}

	a.window = append(a.window, record{
		id:       entry.ID,
		ip:       entry.SourceIP,
		status:   entry.ResponseStatus,
		rtMs:     entry.ResponseTimeMs,
		denied:   entry.Denied,
		detected: entry.DetectionID != "",
		ts:       entry.Timestamp,
	})
	a.seen[entry.ID] = struct{}{}
}

// Snapshot recomputes a StatsSnapshot from the current window.
func (a *Aggregator) Snapshot() traffic.StatsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := traffic.StatsSnapshot{
		GeneratedAt:  time.Now(),
		StatusCounts: make(map[int]int64),
	}
	if len(a.window) > 0 {
		snap.WindowStart = a.window[0].ts
	}

	ipCounts := make(map[string]int64)
	var totalRt float64
	for _, r := range a.window {
		snap.TotalRequests++
		snap.StatusCounts[r.status]++
		ipCounts[r.ip]++
		totalRt += r.rtMs
		if r.detected {
			snap.TunnelDetections++
		}
		if r.denied {
			snap.DeniedRequests++
		}
	}
	if snap.TotalRequests > 0 {
		snap.AverageResponseTimeMs = totalRt / float64(snap.TotalRequests)
	}

	snap.TopIPs = rankIPs(ipCounts, TopIPLimit)
	if a.geo != nil {
		for i := range snap.TopIPs {
			snap.TopIPs[i].Country = a.country(snap.TopIPs[i].IP)
		}
	}
	return snap
}

func (a *Aggregator) country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	rec, err := a.geo.Country(parsed)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

// rankIPs orders talkers by descending count, ties broken by IP for a
// stable result.
func rankIPs(counts map[string]int64, limit int) []traffic.IPCount {
	out := make([]traffic.IPCount, 0, len(counts))
	for ip, n := range counts {
		out = append(out, traffic.IPCount{IP: ip, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
