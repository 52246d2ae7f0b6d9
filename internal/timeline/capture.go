// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package timeline reconstructs stored traffic captures into a
// timing-accurate waterfall for investigation. It operates on closed
// captures only and is independent of the live pipeline.
package timeline

import (
	"encoding/json"
	"strings"

	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/traffic"
)

// Capture is an ordered list of request/response exchanges with named,
// non-negative timing phases. It is the canonical exchange format; standard
// HTTP Archive (HAR) files convert losslessly via ParseHAR.
type Capture struct {
	Entries []CaptureEntry `json:"entries"`
}

// CaptureEntry is one captured exchange.
type CaptureEntry struct {
	URL       string             `json:"url"`
	Method    string             `json:"method"`
	Status    int                `json:"status"`
	MimeType  string             `json:"mime_type,omitempty"`
	SizeBytes int64              `json:"size_bytes"`
	Headers   traffic.Headers    `json:"headers,omitempty"`
	Timings   map[string]float64 `json:"timings"`
}

// harFile mirrors the subset of the HAR 1.2 format the reconstructor needs.
type harFile struct {
	Log struct {
		Entries []struct {
			Request struct {
				Method  string `json:"method"`
				URL     string `json:"url"`
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"request"`
			Response struct {
				Status  int `json:"status"`
				Content struct {
					Size     int64  `json:"size"`
					MimeType string `json:"mimeType"`
				} `json:"content"`
			} `json:"response"`
			Timings map[string]float64 `json:"timings"`
		} `json:"entries"`
	} `json:"log"`
}

// ParseHAR converts a standard HAR document into a Capture, preserving
// entry order.
func ParseHAR(data []byte) (*Capture, error) {
	var har harFile
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "malformed HAR document")
	}

	capture := &Capture{Entries: make([]CaptureEntry, 0, len(har.Log.Entries))}
	for _, e := range har.Log.Entries {
		entry := CaptureEntry{
			URL:       e.Request.URL,
			Method:    e.Request.Method,
			Status:    e.Response.Status,
			MimeType:  e.Response.Content.MimeType,
			SizeBytes: e.Response.Content.Size,
			Timings:   e.Timings,
		}
		for _, h := range e.Request.Headers {
			entry.Headers = append(entry.Headers, traffic.Header{Name: h.Name, Value: h.Value})
		}
		capture.Entries = append(capture.Entries, entry)
	}
	return capture, nil
}

// MimeCategory buckets a MIME type for waterfall filtering.
func MimeCategory(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.Contains(mt, "html"):
		return "document"
	case strings.Contains(mt, "javascript") || strings.Contains(mt, "ecmascript"):
		return "script"
	case strings.Contains(mt, "css"):
		return "stylesheet"
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case strings.HasPrefix(mt, "font/") || strings.Contains(mt, "font"):
		return "font"
	case strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/"):
		return "media"
	case strings.Contains(mt, "json") || strings.Contains(mt, "xml"):
		return "xhr"
	case mt == "":
		return "other"
	default:
		return "other"
	}
}
