// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline wires ingest, block enforcement, classification, fan-out
// and storage into the live processing engine.
package pipeline

import (
	"hash/fnv"
	"runtime"
	"sync"

	"grimm.is/burrow/internal/blocklist"
	"grimm.is/burrow/internal/bus"
	"grimm.is/burrow/internal/classifier"
	"grimm.is/burrow/internal/ingest"
	"grimm.is/burrow/internal/logging"
	"grimm.is/burrow/internal/metrics"
	"grimm.is/burrow/internal/store"
	"grimm.is/burrow/internal/traffic"
)

const workerQueueSize = 256

// Engine runs observed exchanges through the full pipeline. Entries from the
// same source IP are always handled by the same worker, so per-IP ordering
// holds even with a worker per core.
type Engine struct {
	adapter    *ingest.Adapter
	rules      *blocklist.Store
	classifier *classifier.Classifier
	broadcast  *bus.Broadcaster
	recent     *store.RecentWindow
	archive    *store.Archive
	collector  *metrics.Collector
	logger     *logging.Logger

	workers []chan *traffic.LogEntry
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchive attaches a durable archive. Entries and detections are
// recorded best-effort; archive failures never stall the live path.
func WithArchive(a *store.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithWorkers overrides the worker count; zero or negative means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = make([]chan *traffic.LogEntry, n)
		}
	}
}

// New assembles an engine. Call Start before submitting observations.
func New(adapter *ingest.Adapter, rules *blocklist.Store, cls *classifier.Classifier,
	b *bus.Broadcaster, recent *store.RecentWindow, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	e := &Engine{
		adapter:    adapter,
		rules:      rules,
		classifier: cls,
		broadcast:  b,
		recent:     recent,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers == nil {
		e.workers = make([]chan *traffic.LogEntry, runtime.NumCPU())
	}
	return e
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	for i := range e.workers {
		ch := make(chan *traffic.LogEntry, workerQueueSize)
		e.workers[i] = ch
		e.wg.Add(1)
		go e.run(ch)
	}
	e.logger.Info("pipeline started", "workers", len(e.workers))
}

// Stop drains the workers and waits for in-flight entries to finish. The
// engine cannot be restarted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	for _, ch := range e.workers {
		close(ch)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("pipeline stopped")
}

// Submit normalizes one observation and hands it to the pipeline. The
// returned entry reflects ingest-time state only; blocking and classification
// happen asynchronously on the owning worker.
func (e *Engine) Submit(obs ingest.Observation) (*traffic.LogEntry, error) {
	entry, err := e.adapter.Normalize(obs)
	if err != nil {
		if e.collector != nil {
			e.collector.IngestRejects.Inc()
		}
		return nil, err
	}

	// The read lock pins the worker channels open for the send; Stop only
	// closes them under the write lock.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.stopped {
		e.process(entry)
		return entry, nil
	}
	e.workers[e.shard(entry.SourceIP)] <- entry
	return entry, nil
}

// shard picks the worker owning a source IP.
func (e *Engine) shard(ip string) int {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return int(h.Sum32() % uint32(len(e.workers)))
}

func (e *Engine) run(ch chan *traffic.LogEntry) {
	defer e.wg.Done()
	for entry := range ch {
		e.process(entry)
	}
}

// process runs one entry through enforcement, classification, storage and
// fan-out. Denied entries still flow downstream, marked as denied.
func (e *Engine) process(entry *traffic.LogEntry) {
	if dec := e.rules.Evaluate(entry); !dec.Allowed {
		entry.Denied = true
		entry.DeniedBy = dec.Rule.ID
		if e.collector != nil {
			e.collector.DeniedTotal.Inc()
		}
		e.logger.Debug("entry denied",
			"entry", entry.ID, "source_ip", entry.SourceIP, "rule", dec.Rule.ID)
	}

	det := e.classifier.Classify(entry)
	if det != nil {
		entry.DetectionID = det.DetectionID
	}

	e.recent.AddEntry(entry)
	if e.archive != nil {
		if err := e.archive.RecordEntry(entry); err != nil {
			e.logger.Warn("archive write failed", "entry", entry.ID, "error", err)
		}
	}

	if e.collector != nil {
		e.collector.EntriesTotal.Inc()
		e.collector.ResponseTimeMs.Observe(entry.ResponseTimeMs)
	}

	e.broadcast.Publish(bus.NewLogEvent(entry))

	if det == nil {
		return
	}

	e.recent.AddDetection(det)
	if e.archive != nil {
		if err := e.archive.RecordDetection(det); err != nil {
			e.logger.Warn("archive write failed", "detection", det.DetectionID, "error", err)
		}
	}
	if e.collector != nil {
		e.collector.DetectionsTotal.WithLabelValues(string(det.TunnelType)).Inc()
	}
	e.logger.Info("tunnel detected",
		"detection", det.DetectionID,
		"entry", det.EntryID,
		"source_ip", det.SourceIP,
		"type", det.TunnelType,
		"confidence", det.Confidence.String(),
		"score", det.RiskScore)

	e.broadcast.Publish(bus.NewAlertEvent(det))
}

// AddRule inserts a block rule and announces it on the bus.
func (e *Engine) AddRule(rule traffic.BlockRule) (traffic.BlockRule, error) {
	added, err := e.rules.AddRule(rule)
	if err != nil {
		return traffic.BlockRule{}, err
	}
	e.logger.Info("block rule added", "rule", added.ID, "kind", added.Kind, "key", added.Key())
	e.broadcast.Publish(bus.NewBlockAddedEvent(&added))
	return added, nil
}

// RemoveRule removes a rule by its discriminating key. Removing an absent
// rule is a no-op and reports false.
func (e *Engine) RemoveRule(rule traffic.BlockRule) bool {
	removed := e.rules.RemoveRule(rule)
	if removed {
		e.logger.Info("block rule removed", "key", rule.Key())
	}
	return removed
}

// RemoveRuleByID removes a rule by its assigned ID.
func (e *Engine) RemoveRuleByID(id string) bool {
	removed := e.rules.RemoveByID(id)
	if removed {
		e.logger.Info("block rule removed", "rule", id)
	}
	return removed
}

// Rules returns the active rule set.
func (e *Engine) Rules() []traffic.BlockRule {
	return e.rules.Rules()
}

// RulesByKind returns the active rules of one kind.
func (e *Engine) RulesByKind(kind traffic.RuleKind) []traffic.BlockRule {
	return e.rules.RulesByKind(kind)
}
