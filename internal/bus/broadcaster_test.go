// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/burrow/internal/traffic"
)

func logEvent(id string) Event {
	return NewLogEvent(&traffic.LogEntry{ID: id})
}

func drainConnected(t *testing.T, sub *Subscriber) {
	t.Helper()
	ev, ok := sub.Receive()
	require.True(t, ok)
	require.Equal(t, EventConnected, ev.Type)
}

func TestSubscribe_ConnectedFirst(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	ev, ok := sub.Receive()
	require.True(t, ok)
	assert.Equal(t, EventConnected, ev.Type)
}

func TestDropOldest(t *testing.T) {
	b := New(nil, WithMaxQueue(3))
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	drainConnected(t, sub)

	for i := 1; i <= 5; i++ {
		b.Publish(logEvent(fmt.Sprintf("e%d", i)))
	}

	queued := sub.Queued()
	require.Len(t, queued, 3, "exactly maxQueue entries retained")
	assert.Equal(t, "e3", queued[0].Entry.ID)
	assert.Equal(t, "e4", queued[1].Entry.ID)
	assert.Equal(t, "e5", queued[2].Entry.ID)
	assert.Equal(t, uint64(2), sub.Dropped())
}

func TestSlowSubscriberIsolation(t *testing.T) {
	b := New(nil, WithMaxQueue(2))
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)
	drainConnected(t, fast)

	done := make(chan struct{})
	go func() {
		// The slow subscriber never drains; publishing must not block.
		for i := 0; i < 1000; i++ {
			b.Publish(logEvent(fmt.Sprintf("e%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The fast subscriber still receives the most recent events.
	ev, ok := fast.Receive()
	require.True(t, ok)
	assert.Equal(t, EventLog, ev.Type)
}

func TestUnsubscribeReleasesReceive(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	drainConnected(t, sub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := sub.Receive()
		assert.False(t, ok, "Receive must report closure")
	}()

	b.Unsubscribe(sub)
	wg.Wait()

	// Delivery attempts after close are no-ops.
	b.Publish(logEvent("late"))
	assert.Empty(t, sub.Queued())
}

func TestPongTargetsOneSubscriber(t *testing.T) {
	b := New(nil)
	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)
	drainConnected(t, a)
	drainConnected(t, c)

	b.Pong(a)

	ev, ok := a.Receive()
	require.True(t, ok)
	assert.Equal(t, EventPong, ev.Type)
	assert.Empty(t, c.Queued(), "pong must not broadcast")
}

func TestEventEnvelopeJSON(t *testing.T) {
	ev := NewAlertEvent(&traffic.TunnelDetection{
		DetectionID: "d1",
		Detected:    true,
		TunnelType:  traffic.TunnelDNSOverHTTP,
		Confidence:  traffic.ConfidenceHigh,
		RiskScore:   72,
	})

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Equal(t, "tunnel_alert", envelope.Type)

	var det traffic.TunnelDetection
	require.NoError(t, json.Unmarshal(envelope.Data, &det))
	assert.Equal(t, "d1", det.DetectionID)
	assert.Equal(t, traffic.ConfidenceHigh, det.Confidence)
}

func TestDropHook(t *testing.T) {
	drops := 0
	b := New(nil, WithMaxQueue(1), WithDropHook(func() { drops++ }))
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	drainConnected(t, sub)

	b.Publish(logEvent("e1"))
	b.Publish(logEvent("e2"))
	b.Publish(logEvent("e3"))
	assert.Equal(t, 2, drops)
}
