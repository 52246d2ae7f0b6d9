// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/burrow/internal/traffic"
)

func entry(id string, ts time.Time) *traffic.LogEntry {
	return &traffic.LogEntry{
		ID:             id,
		Timestamp:      ts,
		SourceIP:       "10.0.0.1",
		Method:         "GET",
		Path:           "/",
		ResponseStatus: 200,
	}
}

func TestRecentWindow_BoundedNewestFirst(t *testing.T) {
	w := NewRecentWindow(3)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		w.AddEntry(entry(fmt.Sprintf("e%d", i), now))
	}

	require.Equal(t, 3, w.Len(), "oldest entries evicted first")

	page := w.Entries(0, 10)
	require.Len(t, page, 3)
	assert.Equal(t, "e5", page[0].ID)
	assert.Equal(t, "e4", page[1].ID)
	assert.Equal(t, "e3", page[2].ID)
}

func TestRecentWindow_Pagination(t *testing.T) {
	w := NewRecentWindow(10)
	now := time.Now()
	for i := 1; i <= 6; i++ {
		w.AddEntry(entry(fmt.Sprintf("e%d", i), now))
	}

	page := w.Entries(2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "e4", page[0].ID)
	assert.Equal(t, "e3", page[1].ID)
}

func TestRecentWindow_DetectionConfidenceFilter(t *testing.T) {
	w := NewRecentWindow(10)
	for i, conf := range []traffic.Confidence{
		traffic.ConfidenceLow, traffic.ConfidenceHigh, traffic.ConfidenceConfirmed,
	} {
		w.AddDetection(&traffic.TunnelDetection{
			DetectionID: fmt.Sprintf("d%d", i),
			Confidence:  conf,
		})
	}

	high := w.Detections(traffic.ConfidenceHigh, 0, 10)
	require.Len(t, high, 2)
	assert.Equal(t, "d2", high[0].DetectionID, "newest first")

	all := w.Detections(traffic.ConfidenceLow, 0, 10)
	assert.Len(t, all, 3)
}

func TestArchive_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	now := time.Now().Truncate(time.Millisecond)
	e := entry("e1", now)
	e.DetectionID = "d1"
	require.NoError(t, a.RecordEntry(e))
	require.NoError(t, a.RecordEntry(e), "replays must not duplicate rows")

	require.NoError(t, a.RecordDetection(&traffic.TunnelDetection{
		DetectionID: "d1",
		EntryID:     "e1",
		SourceIP:    "10.0.0.1",
		Detected:    true,
		TunnelType:  traffic.TunnelLongPoll,
		Confidence:  traffic.ConfidenceHigh,
		RiskScore:   65,
		Indicators:  []string{"exchange held open 45000ms"},
		Timestamp:   now,
	}))

	entries, err := a.Entries(0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, "d1", entries[0].DetectionID)

	dets, err := a.Detections(traffic.ConfidenceMedium, 0, 10)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, traffic.TunnelLongPoll, dets[0].TunnelType)
	assert.Equal(t, []string{"exchange held open 45000ms"}, dets[0].Indicators)

	none, err := a.Detections(traffic.ConfidenceConfirmed, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestArchive_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, a.RecordEntry(entry("old", old)))
	require.NoError(t, a.RecordEntry(entry("new", time.Now())))

	n, err := a.Prune(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := a.Entries(0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)
}
