// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/burrow/internal/traffic"
)

// Archive persists entries and detections to SQLite for retrieval beyond
// the in-memory window.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates the archive database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive db: %w", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_entries (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL, -- Unix milliseconds
		source_ip TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		query TEXT,
		status INTEGER,
		response_time_ms REAL,
		denied INTEGER DEFAULT 0,
		denied_by TEXT,
		detection_id TEXT,
		raw TEXT NOT NULL -- full entry JSON
	);
	CREATE INDEX IF NOT EXISTS idx_log_entries_ts ON log_entries(ts);
	CREATE INDEX IF NOT EXISTS idx_log_entries_ip ON log_entries(source_ip);

	CREATE TABLE IF NOT EXISTS detections (
		detection_id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		source_ip TEXT NOT NULL,
		tunnel_type TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		risk_score INTEGER NOT NULL,
		indicators TEXT -- JSON array
	);
	CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts);
	CREATE INDEX IF NOT EXISTS idx_detections_confidence ON detections(confidence);
	`
	_, err := a.db.Exec(schema)
	return err
}

// RecordEntry archives one log entry. Conflicting IDs are ignored so
// replays never duplicate rows.
func (a *Archive) RecordEntry(entry *traffic.LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(`
		INSERT INTO log_entries (id, ts, source_ip, method, path, query, status, response_time_ms, denied, denied_by, detection_id, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		entry.ID,
		entry.Timestamp.UnixMilli(),
		entry.SourceIP,
		entry.Method,
		entry.Path,
		entry.Query,
		entry.ResponseStatus,
		entry.ResponseTimeMs,
		boolToInt(entry.Denied),
		entry.DeniedBy,
		entry.DetectionID,
		string(raw),
	)
	return err
}

// RecordDetection archives one detection.
func (a *Archive) RecordDetection(det *traffic.TunnelDetection) error {
	indicators, err := json.Marshal(det.Indicators)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(`
		INSERT INTO detections (detection_id, entry_id, ts, source_ip, tunnel_type, confidence, risk_score, indicators)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(detection_id) DO NOTHING`,
		det.DetectionID,
		det.EntryID,
		det.Timestamp.UnixMilli(),
		det.SourceIP,
		string(det.TunnelType),
		int(det.Confidence),
		det.RiskScore,
		string(indicators),
	)
	return err
}

// Entries returns archived entries newest-first.
func (a *Archive) Entries(offset, limit int) ([]*traffic.LogEntry, error) {
	rows, err := a.db.Query(`
		SELECT raw FROM log_entries ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*traffic.LogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var entry traffic.LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// Detections returns archived detections at or above minConfidence,
// newest-first.
func (a *Archive) Detections(minConfidence traffic.Confidence, offset, limit int) ([]*traffic.TunnelDetection, error) {
	rows, err := a.db.Query(`
		SELECT detection_id, entry_id, ts, source_ip, tunnel_type, confidence, risk_score, indicators
		FROM detections WHERE confidence >= ?
		ORDER BY ts DESC, detection_id DESC LIMIT ? OFFSET ?`,
		int(minConfidence), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*traffic.TunnelDetection
	for rows.Next() {
		var (
			det        traffic.TunnelDetection
			ts         int64
			tunnelType string
			confidence int
			indicators string
		)
		if err := rows.Scan(&det.DetectionID, &det.EntryID, &ts, &det.SourceIP,
			&tunnelType, &confidence, &det.RiskScore, &indicators); err != nil {
			return nil, err
		}
		det.Timestamp = time.UnixMilli(ts)
		det.TunnelType = traffic.TunnelType(tunnelType)
		det.Confidence = traffic.Confidence(confidence)
		det.Detected = true
		if indicators != "" {
			if err := json.Unmarshal([]byte(indicators), &det.Indicators); err != nil {
				return nil, err
			}
		}
		out = append(out, &det)
	}
	return out, rows.Err()
}

// Prune deletes archived rows older than the retention cutoff.
func (a *Archive) Prune(olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixMilli()
	res, err := a.db.Exec(`DELETE FROM log_entries WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	res, err = a.db.Exec(`DELETE FROM detections WHERE ts < ?`, cutoff)
	if err != nil {
		return n, err
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
