// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ingest normalizes raw traffic observations into canonical log
// entries. The adapter decides nothing about blocking or classification; it
// only produces the immutable entry.
package ingest

import (
	"net"
	"time"

	"github.com/google/uuid"

	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/traffic"
)

// DefaultBodyCap is the stored-body size cap in bytes. Bodies beyond it are
// truncated but keep their original size for investigative value.
const DefaultBodyCap = 64 * 1024

// Observation is one raw request/response exchange as reported by the
// monitored edge.
type Observation struct {
	Timestamp       time.Time       `json:"timestamp"`
	SourceIP        string          `json:"source_ip"`
	Method          string          `json:"method"`
	Path            string          `json:"path"`
	Query           string          `json:"query,omitempty"`
	RequestHeaders  traffic.Headers `json:"request_headers,omitempty"`
	RequestBody     string          `json:"request_body,omitempty"`
	ResponseStatus  int             `json:"response_status"`
	ResponseHeaders traffic.Headers `json:"response_headers,omitempty"`
	ResponseBody    string          `json:"response_body,omitempty"`
	ResponseTimeMs  float64         `json:"response_time_ms"`
}

// Adapter converts observations into log entries.
type Adapter struct {
	bodyCap int
}

// NewAdapter creates an Adapter with the given body cap; zero or negative
// means DefaultBodyCap.
func NewAdapter(bodyCap int) *Adapter {
	if bodyCap <= 0 {
		bodyCap = DefaultBodyCap
	}
	return &Adapter{bodyCap: bodyCap}
}

// Normalize validates an observation and produces its LogEntry. The entry
// is created once and never mutated afterwards.
func (a *Adapter) Normalize(obs Observation) (*traffic.LogEntry, error) {
	if obs.SourceIP == "" || net.ParseIP(obs.SourceIP) == nil {
		return nil, errors.Errorf(errors.KindValidation, "invalid source ip: %q", obs.SourceIP)
	}
	if obs.Method == "" {
		return nil, errors.New(errors.KindValidation, "method is required")
	}
	if obs.Path == "" {
		return nil, errors.New(errors.KindValidation, "path is required")
	}
	if obs.ResponseTimeMs < 0 {
		return nil, errors.Errorf(errors.KindValidation, "negative response time: %f", obs.ResponseTimeMs)
	}

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &traffic.LogEntry{
		ID:              uuid.NewString(),
		Timestamp:       ts,
		SourceIP:        obs.SourceIP,
		Method:          obs.Method,
		Path:            obs.Path,
		Query:           obs.Query,
		RequestHeaders:  obs.RequestHeaders,
		RequestBody:     a.capBody(obs.RequestBody),
		ResponseStatus:  obs.ResponseStatus,
		ResponseHeaders: obs.ResponseHeaders,
		ResponseBody:    a.capBody(obs.ResponseBody),
		ResponseTimeMs:  obs.ResponseTimeMs,
	}, nil
}

// capBody applies the body-size cap. Size always reflects the original
// size, not the stored prefix length.
func (a *Adapter) capBody(body string) traffic.Body {
	b := traffic.Body{Data: body, Size: int64(len(body))}
	if len(body) > a.bodyCap {
		b.Data = body[:a.bodyCap]
		b.Truncated = true
	}
	return b
}
