// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package timeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstruct_SequentialOffsets(t *testing.T) {
	capture := &Capture{Entries: []CaptureEntry{
		{
			URL: "https://example.com/a", Method: "GET", Status: 200,
			Timings: map[string]float64{"dns": 20, "connect": 40, "wait": 60},
		},
		{
			URL: "https://example.com/b", Method: "GET", Status: 200,
			Timings: map[string]float64{"wait": 80},
		},
	}}

	result := Reconstruct(capture)
	require.Len(t, result.Entries, 2)

	assert.Equal(t, 0.0, result.Entries[0].StartOffsetMs)
	assert.Equal(t, 120.0, result.Entries[0].EndOffsetMs)
	assert.Equal(t, 120.0, result.Entries[1].StartOffsetMs)
	assert.Equal(t, 200.0, result.Entries[1].EndOffsetMs)
	assert.Equal(t, 200.0, result.TotalDurationMs)
}

func TestReconstruct_NegativePhasesExcluded(t *testing.T) {
	// HAR encodes not-applicable phases as -1; they must never subtract time.
	capture := &Capture{Entries: []CaptureEntry{
		{
			URL: "https://example.com/", Method: "GET",
			Timings: map[string]float64{"blocked": -1, "dns": -1, "ssl": 0, "wait": 50},
		},
	}}

	result := Reconstruct(capture)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, 50.0, result.Entries[0].DurationMs)
}

func TestReconstruct_EmptyCapture(t *testing.T) {
	result := Reconstruct(&Capture{})
	assert.NotNil(t, result)
	assert.Empty(t, result.Entries)
	assert.Empty(t, result.Warnings)
	assert.Zero(t, result.TotalDurationMs)
}

func TestReconstruct_MalformedEntrySkippedWithWarning(t *testing.T) {
	capture := &Capture{Entries: []CaptureEntry{
		{URL: "", Method: "GET", Timings: map[string]float64{"wait": 10}},
		{URL: "https://example.com/ok", Method: "GET", Timings: map[string]float64{"wait": 30}},
	}}

	result := Reconstruct(capture)
	require.Len(t, result.Entries, 1)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "entry 0")
	assert.Equal(t, 0.0, result.Entries[0].StartOffsetMs, "skipped entries contribute no time")
}

func TestReconstruct_OffsetsNonDecreasing(t *testing.T) {
	capture := &Capture{}
	var total float64
	for i := 0; i < 25; i++ {
		d := float64((i * 37) % 90)
		total += d
		capture.Entries = append(capture.Entries, CaptureEntry{
			URL:     fmt.Sprintf("https://example.com/r%d", i),
			Method:  "GET",
			Timings: map[string]float64{"wait": d},
		})
	}

	result := Reconstruct(capture)
	require.Len(t, result.Entries, len(capture.Entries))

	prev := 0.0
	for _, e := range result.Entries {
		assert.GreaterOrEqual(t, e.StartOffsetMs, prev)
		assert.GreaterOrEqual(t, e.EndOffsetMs, e.StartOffsetMs)
		prev = e.StartOffsetMs
	}
	assert.InDelta(t, total, result.TotalDurationMs, 0.001,
		"final end offset equals the sum of all durations")
}

func TestFilterAndSortPreserveOffsets(t *testing.T) {
	capture := &Capture{Entries: []CaptureEntry{
		{URL: "https://a.test/x.js", Method: "GET", MimeType: "application/javascript",
			SizeBytes: 10, Timings: map[string]float64{"wait": 100}},
		{URL: "https://b.test/y.css", Method: "GET", MimeType: "text/css",
			SizeBytes: 30, Timings: map[string]float64{"wait": 20}},
		{URL: "https://c.test/z.js", Method: "GET", MimeType: "application/javascript",
			SizeBytes: 20, Timings: map[string]float64{"wait": 60}},
	}}
	result := Reconstruct(capture)

	scripts := FilterByMime(result.Entries, "script")
	require.Len(t, scripts, 2)
	assert.Equal(t, 0.0, scripts[0].StartOffsetMs)
	assert.Equal(t, 120.0, scripts[1].StartOffsetMs, "filtering must not re-derive offsets")

	bySize := SortBy(result.Entries, SortBySize)
	assert.Equal(t, int64(30), bySize[0].SizeBytes)
	assert.Equal(t, 100.0, bySize[2].EndOffsetMs, "sorting must not touch offsets")

	byDomain := SortBy(result.Entries, SortByDomain)
	assert.Equal(t, "a.test", byDomain[0].Domain)
}

func TestParseHAR(t *testing.T) {
	har := `{
	  "log": {
	    "entries": [
	      {
	        "request": {"method": "GET", "url": "https://example.com/", "headers": [{"name": "Accept", "value": "text/html"}]},
	        "response": {"status": 200, "content": {"size": 5120, "mimeType": "text/html"}},
	        "timings": {"blocked": -1, "dns": 3, "connect": 10, "send": 1, "wait": 90, "receive": 16}
	      }
	    ]
	  }
	}`

	capture, err := ParseHAR([]byte(har))
	require.NoError(t, err)
	require.Len(t, capture.Entries, 1)

	result := Reconstruct(capture)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, 120.0, result.Entries[0].DurationMs)
	assert.Equal(t, "document", result.Entries[0].MimeCategory)
	assert.Equal(t, "example.com", result.Entries[0].Domain)
	assert.Equal(t, int64(5120), result.Entries[0].SizeBytes)
}

func TestParseHAR_Malformed(t *testing.T) {
	_, err := ParseHAR([]byte("{not json"))
	require.Error(t, err)
}

func TestMimeCategory(t *testing.T) {
	cases := map[string]string{
		"text/html; charset=utf-8": "document",
		"application/javascript":   "script",
		"text/css":                 "stylesheet",
		"image/png":                "image",
		"font/woff2":               "font",
		"video/mp4":                "media",
		"application/json":         "xhr",
		"application/octet-stream": "other",
		"":                         "other",
	}
	for mime, want := range cases {
		assert.Equal(t, want, MimeCategory(mime), "mime %q", mime)
	}
}
