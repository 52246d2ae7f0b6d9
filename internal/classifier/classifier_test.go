// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/burrow/internal/traffic"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(Config{})
	require.NoError(t, err)
	return c
}

func plainEntry(ip string) *traffic.LogEntry {
	return &traffic.LogEntry{
		ID:             "e1",
		Timestamp:      time.Now(),
		SourceIP:       ip,
		Method:         "GET",
		Path:           "/index.html",
		ResponseStatus: 200,
		ResponseTimeMs: 42,
		RequestHeaders: traffic.Headers{
			{Name: "Host", Value: "example.com"},
			{Name: "User-Agent", Value: "Mozilla/5.0 (X11; Linux x86_64)"},
			{Name: "Accept", Value: "text/html"},
		},
	}
}

func TestClassify_AbsenceLaw(t *testing.T) {
	c := newTestClassifier(t)
	det := c.Classify(plainEntry("192.168.1.10"))
	assert.Nil(t, det, "no detection may be emitted when zero indicators fire")
}

func TestClassify_DNSMessageBody(t *testing.T) {
	c := newTestClassifier(t)

	var msg dns.Msg
	msg.SetQuestion("exfil.example.com.", dns.TypeTXT)
	wire, err := msg.Pack()
	require.NoError(t, err)

	entry := plainEntry("10.1.2.3")
	entry.RequestBody = traffic.Body{Data: string(wire), Size: int64(len(wire))}

	det := c.Classify(entry)
	require.NotNil(t, det)
	assert.Equal(t, traffic.TunnelDNSOverHTTP, det.TunnelType)
	assert.True(t, det.Detected)
	assert.NotEmpty(t, det.Indicators)
	assert.Equal(t, entry.ID, det.EntryID)
}

func TestClassify_DNSContentType(t *testing.T) {
	c := newTestClassifier(t)
	entry := plainEntry("10.1.2.4")
	entry.RequestHeaders = append(entry.RequestHeaders,
		traffic.Header{Name: "Content-Type", Value: "application/dns-message"})

	det := c.Classify(entry)
	require.NotNil(t, det)
	assert.Equal(t, traffic.TunnelDNSOverHTTP, det.TunnelType)
}

func TestClassify_LongPoll(t *testing.T) {
	c := newTestClassifier(t)
	entry := plainEntry("10.1.2.5")
	entry.ResponseTimeMs = 45000

	det := c.Classify(entry)
	require.NotNil(t, det)
	assert.Equal(t, traffic.TunnelLongPoll, det.TunnelType)
	assert.Equal(t, traffic.ConfidenceLow, det.Confidence)
}

func TestClassify_RequestBurst(t *testing.T) {
	c := newTestClassifier(t)

	now := time.Now()
	var det *traffic.TunnelDetection
	for i := 0; i < 40; i++ {
		entry := plainEntry("10.9.9.9")
		entry.ID = fmt.Sprintf("e%d", i)
		entry.Timestamp = now.Add(time.Duration(i) * 100 * time.Millisecond)
		entry.Path = "/beacon"
		det = c.Classify(entry)
	}

	require.NotNil(t, det, "sustained burst to one path must fire")
	assert.Equal(t, traffic.TunnelRequestBurst, det.TunnelType)
}

func TestClassify_PerIPIsolation(t *testing.T) {
	c := newTestClassifier(t)

	// Many distinct IPs each sending once must not trip the rate indicator.
	for i := 0; i < 40; i++ {
		entry := plainEntry(fmt.Sprintf("172.16.0.%d", i))
		entry.Path = "/beacon"
		assert.Nil(t, c.Classify(entry))
	}
}

func TestClassify_ScoreClippedAndBands(t *testing.T) {
	c := newTestClassifier(t)

	// Stack indicators: DNS body + long poll + high entropy headers + burst.
	var msg dns.Msg
	msg.SetQuestion("covert.example.org.", dns.TypeNULL)
	wire, err := msg.Pack()
	require.NoError(t, err)

	var det *traffic.TunnelDetection
	for i := 0; i < 40; i++ {
		entry := plainEntry("10.0.0.66")
		entry.Path = "/dns"
		entry.Timestamp = time.Now()
		entry.RequestBody = traffic.Body{Data: string(wire), Size: int64(len(wire))}
		entry.ResponseTimeMs = 60000
		det = c.Classify(entry)
	}

	require.NotNil(t, det)
	assert.LessOrEqual(t, det.RiskScore, 100)
	assert.GreaterOrEqual(t, det.RiskScore, 0)
	if det.Confidence == traffic.ConfidenceConfirmed {
		assert.GreaterOrEqual(t, det.RiskScore, 90, "confirmed implies top-decile score")
	}
}

func TestClassify_WSUpgradeAbuse(t *testing.T) {
	c := newTestClassifier(t)
	entry := plainEntry("10.2.2.2")
	entry.RequestHeaders = traffic.Headers{
		{Name: "Host", Value: "example.com"},
		{Name: "Upgrade", Value: "websocket"},
		{Name: "Connection", Value: "Upgrade"},
		{Name: "Sec-WebSocket-Protocol", Value: "x9KljhZ/z1+Qw82!rT4bn0Vm6Yc3Ue5Ws7%dPo^fGa$hJi&kLmNqRsTuVwXy"},
	}

	det := c.Classify(entry)
	require.NotNil(t, det)
	assert.Equal(t, traffic.TunnelWebSocketAbuse, det.TunnelType)
}

func TestScoreBands(t *testing.T) {
	bands := ScoreBands{Medium: 30, High: 60, Confirmed: 90}
	assert.Equal(t, traffic.ConfidenceLow, bands.Confidence(10))
	assert.Equal(t, traffic.ConfidenceMedium, bands.Confidence(30))
	assert.Equal(t, traffic.ConfidenceHigh, bands.Confidence(75))
	assert.Equal(t, traffic.ConfidenceConfirmed, bands.Confidence(100))
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy(""))
	assert.Zero(t, shannonEntropy(strings.Repeat("a", 100)))
	assert.InDelta(t, 1.0, shannonEntropy("abababab"), 0.001)
}

func TestHistoryRing(t *testing.T) {
	h := &History{}
	now := time.Now()
	for i := 0; i < historySize*2; i++ {
		h.Record(now, "/p")
	}
	total, distinct := h.CountSince(now.Add(time.Second), 10*time.Second)
	assert.Equal(t, historySize, total, "ring must stay bounded")
	assert.Equal(t, 1, distinct)
}
