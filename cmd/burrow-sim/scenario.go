// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"grimm.is/burrow/internal/ingest"
	"grimm.is/burrow/internal/traffic"
)

// Scenario is a replayable traffic script.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step sends one observation shape, optionally repeated on an interval.
type Step struct {
	SourceIP       string            `yaml:"source_ip"`
	Method         string            `yaml:"method"`
	Path           string            `yaml:"path"`
	Query          string            `yaml:"query,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Body           string            `yaml:"body,omitempty"`
	Status         int               `yaml:"status,omitempty"`
	ResponseTimeMs float64           `yaml:"response_time_ms,omitempty"`
	Count          int               `yaml:"count,omitempty"`
	IntervalMs     int               `yaml:"interval_ms,omitempty"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	for i, step := range s.Steps {
		if step.SourceIP == "" || step.Path == "" {
			return nil, fmt.Errorf("scenario %s: step %d needs source_ip and path", path, i)
		}
	}
	return &s, nil
}

func (s Step) observation() ingest.Observation {
	method := s.Method
	if method == "" {
		method = "GET"
	}
	status := s.Status
	if status == 0 {
		status = 200
	}
	var headers traffic.Headers
	for name, value := range s.Headers {
		headers = append(headers, traffic.Header{Name: name, Value: value})
	}
	return ingest.Observation{
		Timestamp:      time.Now(),
		SourceIP:       s.SourceIP,
		Method:         method,
		Path:           s.Path,
		Query:          s.Query,
		RequestHeaders: headers,
		RequestBody:    s.Body,
		ResponseStatus: status,
		ResponseTimeMs: s.ResponseTimeMs,
	}
}

// Replay runs a scenario against the target, preserving step order.
func Replay(ctx context.Context, client *simClient, scenario *Scenario) error {
	log.Printf("replaying scenario %q (%d steps)", scenario.Name, len(scenario.Steps))
	start := time.Now()
	sent := 0

	for i, step := range scenario.Steps {
		count := step.Count
		if count <= 0 {
			count = 1
		}
		interval := time.Duration(step.IntervalMs) * time.Millisecond

		for n := 0; n < count; n++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := client.Send(ctx, step.observation()); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			sent++
			if interval > 0 && n < count-1 {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	log.Printf("sent %d observations in %v", sent, time.Since(start).Round(time.Millisecond))
	return nil
}
