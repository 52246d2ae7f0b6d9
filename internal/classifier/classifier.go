// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classifier scores observed exchanges for covert-channel behavior.
// It runs a pipeline of independent indicator checks, each a pure function
// of the entry plus bounded per-IP recent state; no check performs I/O.
package classifier

import (
	"time"

	"github.com/google/uuid"

	"grimm.is/burrow/internal/traffic"
)

// ScoreBands derive categorical confidence from the numeric risk score.
// Scores below Medium are low confidence.
type ScoreBands struct {
	Medium    int `hcl:"medium,optional"`
	High      int `hcl:"high,optional"`
	Confirmed int `hcl:"confirmed,optional"`
}

// Confidence maps a clipped risk score to its band.
func (b ScoreBands) Confidence(score int) traffic.Confidence {
	switch {
	case score >= b.Confirmed:
		return traffic.ConfidenceConfirmed
	case score >= b.High:
		return traffic.ConfidenceHigh
	case score >= b.Medium:
		return traffic.ConfidenceMedium
	default:
		return traffic.ConfidenceLow
	}
}

// Config holds indicator weights and thresholds. Zero-valued fields are
// filled from DefaultConfig.
type Config struct {
	Weights map[string]int
	Bands   ScoreBands

	HeaderEntropyThreshold  float64
	PayloadEntropyThreshold float64
	MinHeaderSample         int
	MinBodySample           int
	LongPollMs              float64
	RateWindow              time.Duration
	BurstThreshold          int
	BurstMaxPaths           int
	MaxTrackedIPs           int
}

// DefaultConfig returns the standard classifier tuning.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]int{
			IndicatorDNSMessage:     45,
			IndicatorWSUpgrade:      35,
			IndicatorHeaderEntropy:  25,
			IndicatorEncodedPayload: 30,
			IndicatorLongPoll:       20,
			IndicatorRequestBurst:   30,
		},
		// Confirmed must sit in the top decile of the 0-100 scale.
		Bands:                   ScoreBands{Medium: 30, High: 60, Confirmed: 90},
		HeaderEntropyThreshold:  5.2,
		PayloadEntropyThreshold: 5.5,
		MinHeaderSample:         48,
		MinBodySample:           128,
		LongPollMs:              30000,
		RateWindow:              10 * time.Second,
		BurstThreshold:          30,
		BurstMaxPaths:           3,
		MaxTrackedIPs:           4096,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Weights == nil {
		c.Weights = def.Weights
	}
	if c.Bands == (ScoreBands{}) {
		c.Bands = def.Bands
	}
	if c.HeaderEntropyThreshold == 0 {
		c.HeaderEntropyThreshold = def.HeaderEntropyThreshold
	}
	if c.PayloadEntropyThreshold == 0 {
		c.PayloadEntropyThreshold = def.PayloadEntropyThreshold
	}
	if c.MinHeaderSample == 0 {
		c.MinHeaderSample = def.MinHeaderSample
	}
	if c.MinBodySample == 0 {
		c.MinBodySample = def.MinBodySample
	}
	if c.LongPollMs == 0 {
		c.LongPollMs = def.LongPollMs
	}
	if c.RateWindow == 0 {
		c.RateWindow = def.RateWindow
	}
	if c.BurstThreshold == 0 {
		c.BurstThreshold = def.BurstThreshold
	}
	if c.BurstMaxPaths == 0 {
		c.BurstMaxPaths = def.BurstMaxPaths
	}
	if c.MaxTrackedIPs == 0 {
		c.MaxTrackedIPs = def.MaxTrackedIPs
	}
	return c
}

// Classifier evaluates entries against the indicator pipeline.
type Classifier struct {
	cfg   Config
	arena *arena
}

// New creates a Classifier with the given tuning.
func New(cfg Config) (*Classifier, error) {
	cfg = cfg.withDefaults()
	a, err := newArena(cfg.MaxTrackedIPs)
	if err != nil {
		return nil, err
	}
	return &Classifier{cfg: cfg, arena: a}, nil
}

// Classify records the entry in its source IP's history and runs all
// indicator checks. It returns nil when zero indicators fire: absence, not
// a zero-confidence record, keeps the live stream free of noise.
//
// Callers must ensure entries from one source IP are classified by a single
// goroutine; the pipeline partitions workers by IP for exactly this reason.
func (c *Classifier) Classify(entry *traffic.LogEntry) *traffic.TunnelDetection {
	now := entry.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	hist := c.arena.get(entry.SourceIP)
	hist.Record(now, entry.Path)

	score := 0
	var evidence []string
	dominant := ""
	dominantWeight := -1

	for _, name := range indicatorOrder {
		weight := c.cfg.Weights[name]
		if weight <= 0 {
			continue // disabled indicator
		}
		fired, detail := indicators[name](c, entry, hist, now)
		if !fired {
			continue
		}
		score += weight
		evidence = append(evidence, detail)
		if weight > dominantWeight {
			dominant = name
			dominantWeight = weight
		}
	}

	if len(evidence) == 0 {
		return nil
	}

	if score > 100 {
		score = 100
	}

	return &traffic.TunnelDetection{
		DetectionID: uuid.NewString(),
		EntryID:     entry.ID,
		SourceIP:    entry.SourceIP,
		Detected:    true,
		TunnelType:  tunnelTypeFor[dominant],
		Confidence:  c.cfg.Bands.Confidence(score),
		RiskScore:   score,
		Indicators:  evidence,
		Timestamp:   now,
	}
}
