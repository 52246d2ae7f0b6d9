// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package traffic defines the canonical models shared by the monitoring
// pipeline: observed HTTP exchanges, tunnel detections, block rules and
// derived statistics.
package traffic

import (
	"strings"
	"time"

	"grimm.is/burrow/internal/errors"
)

// Header is a single request or response header pair. Headers are kept as an
// ordered list because keys are not necessarily unique and header order is
// itself a classification signal.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list.
type Headers []Header

// Get returns the first value for name (case-insensitive), or "".
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Values returns all values for name (case-insensitive) in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr.Value)
		}
	}
	return out
}

// Body holds a possibly truncated message body. Size always reflects the
// original size on the wire, never the stored prefix length.
type Body struct {
	Data      string `json:"data"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
}

// LogEntry is one observed HTTP exchange. Entries are created once at ingest
// time and never mutated afterwards.
type LogEntry struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	SourceIP        string    `json:"source_ip"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	Query           string    `json:"query,omitempty"`
	RequestHeaders  Headers   `json:"request_headers,omitempty"`
	RequestBody     Body      `json:"request_body"`
	ResponseStatus  int       `json:"response_status"`
	ResponseHeaders Headers   `json:"response_headers,omitempty"`
	ResponseBody    Body      `json:"response_body"`
	ResponseTimeMs  float64   `json:"response_time_ms"`

	// Denied marks entries that matched a block rule. Denied entries still
	// flow to subscribers for audit visibility; dropping the connection is
	// the edge's job, not ours.
	Denied      bool   `json:"denied,omitempty"`
	DeniedBy    string `json:"denied_by,omitempty"`
	DetectionID string `json:"detection_id,omitempty"`
}

// Confidence is the classifier's categorical certainty in a detection. It is
// a closed, totally ordered set; do not add intermediate levels.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceConfirmed
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	case ConfidenceConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// ParseConfidence maps a wire string back to a Confidence level.
func ParseConfidence(s string) (Confidence, bool) {
	switch s {
	case "low":
		return ConfidenceLow, true
	case "medium":
		return ConfidenceMedium, true
	case "high":
		return ConfidenceHigh, true
	case "confirmed":
		return ConfidenceConfirmed, true
	}
	return ConfidenceLow, false
}

// MarshalText implements encoding.TextMarshaler so Confidence serializes as
// its name in JSON.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown values are an
// error, not a silent downgrade.
func (c *Confidence) UnmarshalText(b []byte) error {
	parsed, ok := ParseConfidence(string(b))
	if !ok {
		return errors.Errorf(errors.KindValidation, "unknown confidence level %q", string(b))
	}
	*c = parsed
	return nil
}

// TunnelType categorizes a detected covert channel. The set is extensible;
// values are stable wire strings.
type TunnelType string

const (
	TunnelDNSOverHTTP    TunnelType = "dns_over_http"
	TunnelWebSocketAbuse TunnelType = "websocket_abuse"
	TunnelLongPoll       TunnelType = "long_poll"
	TunnelEncodedPayload TunnelType = "encoded_payload"
	TunnelRequestBurst   TunnelType = "request_burst"
	TunnelUnknown        TunnelType = "unknown"
)

// TunnelDetection is a classification verdict attached to a LogEntry.
// At most one detection exists per entry; immutable once created.
type TunnelDetection struct {
	DetectionID string     `json:"detection_id"`
	EntryID     string     `json:"entry_id"`
	SourceIP    string     `json:"source_ip"`
	Detected    bool       `json:"detected"`
	TunnelType  TunnelType `json:"tunnel_type"`
	Confidence  Confidence `json:"confidence"`
	RiskScore   int        `json:"risk_score"`
	Indicators  []string   `json:"indicators"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RuleKind discriminates block rule variants.
type RuleKind string

const (
	RuleIP       RuleKind = "ip"
	RuleEndpoint RuleKind = "endpoint"
	RulePattern  RuleKind = "pattern"
)

// BlockRule is a standing deny directive. The discriminating key depends on
// the kind: Value for ip rules, Method+Pattern for endpoint rules,
// Field+Value for pattern rules.
type BlockRule struct {
	ID        string    `json:"id"`
	Kind      RuleKind  `json:"kind"`
	Value     string    `json:"value,omitempty"`   // ip, pattern kinds
	Method    string    `json:"method,omitempty"`  // endpoint kind; "ALL" matches any
	Pattern   string    `json:"pattern,omitempty"` // endpoint kind
	Field     string    `json:"field,omitempty"`   // pattern kind, e.g. "user-agent"
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the discriminating key used for the uniqueness invariant.
func (r BlockRule) Key() string {
	switch r.Kind {
	case RuleIP:
		return string(RuleIP) + "/" + r.Value
	case RuleEndpoint:
		return string(RuleEndpoint) + "/" + r.Method + "/" + r.Pattern
	case RulePattern:
		return string(RulePattern) + "/" + r.Field + "/" + r.Value
	}
	return string(r.Kind) + "/" + r.Value
}

// IPCount is one ranked entry of a top-talkers list. Country is only set
// when GeoIP enrichment is configured.
type IPCount struct {
	IP      string `json:"ip"`
	Count   int64  `json:"count"`
	Country string `json:"country,omitempty"`
}

// StatsSnapshot is derived from the aggregator's rolling window. It is never
// persisted on its own; sum(StatusCounts) == TotalRequests for one window.
type StatsSnapshot struct {
	WindowStart           time.Time     `json:"window_start"`
	GeneratedAt           time.Time     `json:"generated_at"`
	TotalRequests         int64         `json:"total_requests"`
	TunnelDetections      int64         `json:"tunnel_detections"`
	DeniedRequests        int64         `json:"denied_requests"`
	AverageResponseTimeMs float64       `json:"average_response_time_ms"`
	StatusCounts          map[int]int64 `json:"status_counts"`
	TopIPs                []IPCount     `json:"top_ips"`
}
