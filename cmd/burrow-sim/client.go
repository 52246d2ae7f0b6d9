// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"grimm.is/burrow/internal/ingest"
	"grimm.is/burrow/internal/stream"
	"grimm.is/burrow/internal/traffic"
)

// simClient posts observations to a burrowd ingest endpoint.
type simClient struct {
	base string
	http *http.Client
}

func newSimClient(base string) *simClient {
	return &simClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send submits one observation.
func (c *simClient) Send(ctx context.Context, obs ingest.Observation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/ingest", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

var browsePaths = []string{
	"/", "/index.html", "/static/app.js", "/static/site.css",
	"/api/v1/products", "/api/v1/cart", "/images/logo.png",
}

// Generate sends a mixed workload: mostly ordinary browsing with a covert
// DNS-over-HTTP talker and a request-burst client folded in.
func Generate(ctx context.Context, client *simClient, count int) error {
	log.Printf("generating %d observations", count)

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var obs ingest.Observation
		switch {
		case i%17 == 0:
			obs = dnsTunnelObservation()
		case i%11 == 0:
			obs = burstObservation(i)
		default:
			obs = browseObservation(i)
		}
		if err := client.Send(ctx, obs); err != nil {
			return err
		}

		select {
		case <-time.After(time.Duration(5+rand.Intn(20)) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("done")
	return nil
}

func browseObservation(i int) ingest.Observation {
	return ingest.Observation{
		SourceIP:       fmt.Sprintf("10.20.0.%d", 2+i%20),
		Method:         "GET",
		Path:           browsePaths[i%len(browsePaths)],
		RequestHeaders: traffic.Headers{{Name: "User-Agent", Value: "Mozilla/5.0"}},
		ResponseStatus: 200,
		ResponseTimeMs: float64(20 + rand.Intn(180)),
	}
}

func dnsTunnelObservation() ingest.Observation {
	payload := make([]byte, 64)
	rand.Read(payload)
	return ingest.Observation{
		SourceIP: "10.20.9.9",
		Method:   "POST",
		Path:     "/resolve",
		RequestHeaders: traffic.Headers{
			{Name: "Content-Type", Value: "application/dns-message"},
			{Name: "Accept", Value: "application/dns-message"},
		},
		RequestBody:    base64.StdEncoding.EncodeToString(payload),
		ResponseStatus: 200,
		ResponseTimeMs: float64(30 + rand.Intn(50)),
	}
}

func burstObservation(i int) ingest.Observation {
	return ingest.Observation{
		SourceIP:       "10.20.9.7",
		Method:         "GET",
		Path:           "/beacon",
		Query:          fmt.Sprintf("seq=%d", i),
		ResponseStatus: 204,
		ResponseTimeMs: float64(5 + rand.Intn(10)),
	}
}

// Watch tails the live event stream and prints each envelope.
func Watch(ctx context.Context, target string) error {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(target, "/"), "http") + "/api/stream"
	client := stream.New(stream.DefaultConfig(wsURL), nil,
		stream.WithStateHook(func(s stream.State) {
			log.Printf("stream: %s", s)
		}))

	go client.Run(ctx)

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			if ev.Type == "pong" {
				continue
			}
			fmt.Printf("%s %s\n", ev.Type, compact(ev.Data))
		case <-ctx.Done():
			return nil
		}
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
