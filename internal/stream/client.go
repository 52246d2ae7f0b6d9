// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stream implements the client side of the live event stream: a
// reconnecting websocket connection manager. Consumers hold a Client value
// rather than sharing a process-wide socket, so independent consumers get
// independent connections and backoff state.
package stream

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/burrow/internal/logging"
)

// State is the connection lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event is one envelope received from the stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Config tunes the connection manager.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	EventBuffer      int
}

// DefaultConfig returns the standard client tuning for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
		EventBuffer:      256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = d.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// Client maintains a live stream connection, reconnecting with exponential
// backoff when it drops.
type Client struct {
	cfg    Config
	logger *logging.Logger

	events chan Event

	mu      sync.RWMutex
	state   State
	onState func(State)
}

// Option configures a Client.
type Option func(*Client)

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// New creates a Client. Call Run to start it.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the channel carrying received envelopes. It is closed when
// Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hook := c.onState
	c.mu.Unlock()

	c.logger.Debug("stream state changed", "state", s.String())
	if hook != nil {
		hook(s)
	}
}

// Run connects and keeps the stream alive until ctx is done. Each drop
// doubles the retry delay up to MaxBackoff, with jitter so a fleet of
// clients does not reconnect in lockstep.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer c.setState(StateDisconnected)

	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			delay := jitter(backoff)
			c.logger.Warn("stream connect failed", "url", c.cfg.URL, "retry_in", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		c.setState(StateConnected)
		backoff = c.cfg.MinBackoff
		c.logger.Info("stream connected", "url", c.cfg.URL)

		c.serve(ctx, conn)
		c.setState(StateDisconnected)
		c.logger.Info("stream disconnected", "url", c.cfg.URL)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// serve pumps one live connection until it fails or ctx is done.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Heartbeat: the server answers each ping with a pong event on the
	// same queue, proving the full path is alive, not just the TCP link.
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(c.cfg.HandshakeTimeout)
				_ = conn.SetWriteDeadline(deadline)
				if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
					cancel()
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("stream read failed", "error", err)
			}
			return
		}
		select {
		case c.events <- ev:
		case <-connCtx.Done():
			return
		}
	}
}

// jitter spreads a delay across [d/2, d).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}
