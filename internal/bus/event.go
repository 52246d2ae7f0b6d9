// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bus

import (
	"encoding/json"

	"grimm.is/burrow/internal/traffic"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventLog         EventType = "log"
	EventTunnelAlert EventType = "tunnel_alert"
	EventStatsUpdate EventType = "stats_update"
	EventBlockAdded  EventType = "block_added"
	EventConnected   EventType = "connected"
	EventPong        EventType = "pong"
)

// Event is the tagged variant fanned out to subscribers. Exactly one of the
// payload fields matching Type is set; Data carries payloads with no
// structured field (connected, pong).
type Event struct {
	Type      EventType                `json:"type"`
	Entry     *traffic.LogEntry        `json:"-"`
	Detection *traffic.TunnelDetection `json:"-"`
	Stats     *traffic.StatsSnapshot   `json:"-"`
	Rule      *traffic.BlockRule       `json:"-"`
	Data      any                      `json:"-"`
}

// Payload returns the variant's payload for the {type, data} envelope.
func (e Event) Payload() any {
	switch e.Type {
	case EventLog:
		return e.Entry
	case EventTunnelAlert:
		return e.Detection
	case EventStatsUpdate:
		return e.Stats
	case EventBlockAdded:
		return e.Rule
	case EventConnected, EventPong:
		return e.Data
	}
	return e.Data
}

// MarshalJSON encodes the event as the wire envelope {type, data}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
		Data any       `json:"data,omitempty"`
	}{Type: e.Type, Data: e.Payload()})
}

// NewLogEvent wraps an observed entry.
func NewLogEvent(entry *traffic.LogEntry) Event {
	return Event{Type: EventLog, Entry: entry}
}

// NewAlertEvent wraps a tunnel detection.
func NewAlertEvent(det *traffic.TunnelDetection) Event {
	return Event{Type: EventTunnelAlert, Detection: det}
}

// NewStatsEvent wraps a stats snapshot.
func NewStatsEvent(snap *traffic.StatsSnapshot) Event {
	return Event{Type: EventStatsUpdate, Stats: snap}
}

// NewBlockAddedEvent wraps a newly added block rule.
func NewBlockAddedEvent(rule *traffic.BlockRule) Event {
	return Event{Type: EventBlockAdded, Rule: rule}
}
