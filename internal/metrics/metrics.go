// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	EntriesTotal    prometheus.Counter
	DeniedTotal     prometheus.Counter
	DetectionsTotal *prometheus.CounterVec
	SubscriberDrops prometheus.Counter
	Subscribers     prometheus.Gauge
	IngestRejects   prometheus.Counter
	ResponseTimeMs  prometheus.Histogram
}

// NewCollector creates and registers the pipeline instruments on reg. A nil
// registerer falls back to the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		EntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      "entries_total",
			Help:      "Observed HTTP exchanges ingested.",
		}),
		DeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      "denied_total",
			Help:      "Exchanges that matched a block rule.",
		}),
		DetectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      "detections_total",
			Help:      "Tunnel detections by type.",
		}, []string{"tunnel_type"}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      "subscriber_dropped_events_total",
			Help:      "Events evicted from subscriber queues by backpressure.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "burrow",
			Name:      "subscribers",
			Help:      "Currently attached live-stream subscribers.",
		}),
		IngestRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      "ingest_rejects_total",
			Help:      "Observations rejected as malformed.",
		}),
		ResponseTimeMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "burrow",
			Name:      "response_time_ms",
			Help:      "Observed exchange response times in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	reg.MustRegister(
		c.EntriesTotal,
		c.DeniedTotal,
		c.DetectionsTotal,
		c.SubscriberDrops,
		c.Subscribers,
		c.IngestRejects,
		c.ResponseTimeMs,
	)
	return c
}
