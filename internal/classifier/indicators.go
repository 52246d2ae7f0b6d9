// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/miekg/dns"

	"grimm.is/burrow/internal/traffic"
)

// Indicator names are stable identifiers used for configured weights and
// appear in detection evidence.
const (
	IndicatorHeaderEntropy  = "header_entropy"
	IndicatorDNSMessage     = "dns_message"
	IndicatorLongPoll       = "long_poll"
	IndicatorEncodedPayload = "encoded_payload"
	IndicatorRequestBurst   = "request_burst"
	IndicatorWSUpgrade      = "ws_upgrade"
)

// indicatorFunc is a pure check over one entry plus that IP's recent
// history. It must not block on I/O; the pipeline classifies at wire speed.
type indicatorFunc func(c *Classifier, entry *traffic.LogEntry, hist *History, now time.Time) (bool, string)

// tunnelTypeFor maps the dominant fired indicator to a tunnel category.
var tunnelTypeFor = map[string]traffic.TunnelType{
	IndicatorHeaderEntropy:  traffic.TunnelEncodedPayload,
	IndicatorDNSMessage:     traffic.TunnelDNSOverHTTP,
	IndicatorLongPoll:       traffic.TunnelLongPoll,
	IndicatorEncodedPayload: traffic.TunnelEncodedPayload,
	IndicatorRequestBurst:   traffic.TunnelRequestBurst,
	IndicatorWSUpgrade:      traffic.TunnelWebSocketAbuse,
}

// indicatorOrder fixes the evaluation (and evidence) order.
var indicatorOrder = []string{
	IndicatorDNSMessage,
	IndicatorWSUpgrade,
	IndicatorHeaderEntropy,
	IndicatorEncodedPayload,
	IndicatorLongPoll,
	IndicatorRequestBurst,
}

var indicators = map[string]indicatorFunc{
	IndicatorHeaderEntropy:  checkHeaderEntropy,
	IndicatorDNSMessage:     checkDNSMessage,
	IndicatorLongPoll:       checkLongPoll,
	IndicatorEncodedPayload: checkEncodedPayload,
	IndicatorRequestBurst:   checkRequestBurst,
	IndicatorWSUpgrade:      checkWSUpgrade,
}

// checkHeaderEntropy flags request headers whose values carry far more
// randomness than browsers and ordinary clients produce, a common sign of
// data smuggled through custom headers.
func checkHeaderEntropy(c *Classifier, entry *traffic.LogEntry, _ *History, _ time.Time) (bool, string) {
	var sb strings.Builder
	for _, h := range entry.RequestHeaders {
		// Cookies are legitimately high-entropy; skip them.
		if strings.EqualFold(h.Name, "cookie") || strings.EqualFold(h.Name, "authorization") {
			continue
		}
		sb.WriteString(h.Value)
	}
	blob := sb.String()
	if len(blob) < c.cfg.MinHeaderSample {
		return false, ""
	}
	e := shannonEntropy(blob)
	if e < c.cfg.HeaderEntropyThreshold {
		return false, ""
	}
	return true, fmt.Sprintf("header value entropy %.2f over %d bytes (threshold %.2f)",
		e, len(blob), c.cfg.HeaderEntropyThreshold)
}

// checkDNSMessage detects DNS-over-HTTP encapsulation: either the declared
// content type, or a request body that parses as a DNS wire message.
func checkDNSMessage(_ *Classifier, entry *traffic.LogEntry, _ *History, _ time.Time) (bool, string) {
	ct := entry.RequestHeaders.Get("content-type")
	if strings.HasPrefix(ct, "application/dns-message") {
		return true, "request declares application/dns-message content type"
	}

	body := entry.RequestBody
	if body.Truncated || len(body.Data) < 12 {
		// Truncated bodies cannot be unpacked reliably.
		return false, ""
	}
	var msg dns.Msg
	if err := msg.Unpack([]byte(body.Data)); err != nil {
		return false, ""
	}
	if len(msg.Question) == 0 {
		return false, ""
	}
	return true, fmt.Sprintf("request body parses as DNS message querying %s", msg.Question[0].Name)
}

// checkLongPoll flags exchanges held open long enough to serve as a
// long-poll covert channel.
func checkLongPoll(c *Classifier, entry *traffic.LogEntry, _ *History, _ time.Time) (bool, string) {
	if entry.ResponseTimeMs < c.cfg.LongPollMs {
		return false, ""
	}
	return true, fmt.Sprintf("exchange held open %.0fms (threshold %.0fms)",
		entry.ResponseTimeMs, c.cfg.LongPollMs)
}

// checkEncodedPayload flags bodies that look like base64-armored high
// entropy data rather than text or ordinary form posts.
func checkEncodedPayload(c *Classifier, entry *traffic.LogEntry, _ *History, _ time.Time) (bool, string) {
	body := entry.RequestBody.Data
	if len(body) < c.cfg.MinBodySample {
		body = entry.ResponseBody.Data
		if len(body) < c.cfg.MinBodySample {
			return false, ""
		}
	}
	ratio := base64Ratio(body)
	if ratio < 0.95 {
		return false, ""
	}
	e := shannonEntropy(body)
	if e < c.cfg.PayloadEntropyThreshold {
		return false, ""
	}
	return true, fmt.Sprintf("base64-like payload (%.0f%% charset match, entropy %.2f)", ratio*100, e)
}

// checkRequestBurst flags a source hammering a small set of paths, the
// shape of a beaconing or chunked-exfiltration channel.
func checkRequestBurst(c *Classifier, entry *traffic.LogEntry, hist *History, now time.Time) (bool, string) {
	total, distinct := hist.CountSince(now, c.cfg.RateWindow)
	if total < c.cfg.BurstThreshold {
		return false, ""
	}
	if distinct > c.cfg.BurstMaxPaths {
		return false, ""
	}
	return true, fmt.Sprintf("%d requests to %d paths from %s within %s",
		total, distinct, entry.SourceIP, c.cfg.RateWindow)
}

// checkWSUpgrade flags websocket upgrades negotiating no recognizable
// subprotocol or a high-entropy one, which tunneling tools commonly do.
func checkWSUpgrade(c *Classifier, entry *traffic.LogEntry, _ *History, _ time.Time) (bool, string) {
	if !strings.EqualFold(entry.RequestHeaders.Get("upgrade"), "websocket") {
		return false, ""
	}
	proto := entry.RequestHeaders.Get("sec-websocket-protocol")
	if proto == "" {
		return false, ""
	}
	if e := shannonEntropy(proto); e >= c.cfg.HeaderEntropyThreshold {
		return true, fmt.Sprintf("websocket upgrade with high-entropy subprotocol (entropy %.2f)", e)
	}
	return false, ""
}

// shannonEntropy returns the per-byte Shannon entropy of s in bits.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	var entropy float64
	n := float64(len(s))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// base64Ratio returns the fraction of bytes drawn from the base64
// (standard or URL-safe) alphabet.
func base64Ratio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	match := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
			match++
		case c == '+' || c == '/' || c == '-' || c == '_' || c == '=':
			match++
		}
	}
	return float64(match) / float64(len(s))
}
