// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/burrow/internal/ingest"
	"grimm.is/burrow/internal/timeline"
	"grimm.is/burrow/internal/traffic"
)

const defaultPageSize = 100

// pageParams reads offset/limit query parameters with sane bounds.
func pageParams(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = defaultPageSize
	}
	return offset, limit
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var obs ingest.Observation
	if !BindJSON(w, r, &obs) {
		return
	}

	entry, err := s.engine.Submit(obs)
	if err != nil {
		writeErrorKind(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":        entry.ID,
		"timestamp": entry.Timestamp,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)

	if r.URL.Query().Get("source") == "archive" {
		if s.archive == nil {
			WriteError(w, http.StatusNotFound, "archive not configured")
			return
		}
		entries, err := s.archive.Entries(offset, limit)
		if err != nil {
			writeErrorKind(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "offset": offset})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"entries": s.recent.Entries(offset, limit),
		"offset":  offset,
		"total":   s.recent.Len(),
	})
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)

	min := traffic.ConfidenceLow
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		parsed, ok := traffic.ParseConfidence(raw)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown confidence level: "+raw)
			return
		}
		min = parsed
	}

	if r.URL.Query().Get("source") == "archive" {
		if s.archive == nil {
			WriteError(w, http.StatusNotFound, "archive not configured")
			return
		}
		dets, err := s.archive.Detections(min, offset, limit)
		if err != nil {
			writeErrorKind(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"detections": dets, "offset": offset})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"detections": s.recent.Detections(min, offset, limit),
		"offset":     offset,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	WriteJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := traffic.RuleKind(raw)
		switch kind {
		case traffic.RuleIP, traffic.RuleEndpoint, traffic.RulePattern:
		default:
			WriteError(w, http.StatusBadRequest, "unknown rule kind: "+raw)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"rules": s.engine.RulesByKind(kind)})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"rules": s.engine.Rules()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule traffic.BlockRule
	if !BindJSON(w, r, &rule) {
		return
	}

	added, err := s.engine.AddRule(rule)
	if err != nil {
		writeErrorKind(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, added)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	var rule traffic.BlockRule
	if !BindJSON(w, r, &rule) {
		return
	}

	// Removing an absent rule is a no-op, not an error.
	removed := s.engine.RemoveRule(rule)
	WriteJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleRemoveRuleByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed := s.engine.RemoveRuleByID(id)
	WriteJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read capture body")
		return
	}

	capture, err := timeline.ParseHAR(data)
	if err != nil {
		writeErrorKind(w, err)
		return
	}

	result := timeline.Reconstruct(capture)

	entries := result.Entries
	if mime := r.URL.Query().Get("mime"); mime != "" {
		entries = timeline.FilterByMime(entries, mime)
	}
	if sort := r.URL.Query().Get("sort"); sort != "" {
		entries = timeline.SortBy(entries, timeline.SortKey(sort))
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"entries":           entries,
		"warnings":          result.Warnings,
		"total_duration_ms": result.TotalDurationMs,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"subscribers":    s.broadcast.Len(),
		"retained":       s.recent.Len(),
	})
}
