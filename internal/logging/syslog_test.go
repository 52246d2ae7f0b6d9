// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"testing"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Enabled {
		t.Error("Default should be disabled")
	}
	if cfg.Port != 514 {
		t.Errorf("Expected port 514, got %d", cfg.Port)
	}
	if cfg.Protocol != "udp" {
		t.Errorf("Expected protocol udp, got %s", cfg.Protocol)
	}
	if cfg.Tag != "burrow" {
		t.Errorf("Expected tag burrow, got %s", cfg.Tag)
	}
	if cfg.Facility != 1 {
		t.Errorf("Expected facility 1, got %d", cfg.Facility)
	}
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	cfg := SyslogConfig{
		Enabled: true,
		Host:    "", // Missing
	}

	_, err := NewSyslogWriter(cfg)
	if err == nil {
		t.Error("Expected error for missing host")
	}
}

func TestNewSyslogWriter_Defaults(t *testing.T) {
	// UDP writers connect lazily enough that no server is needed here;
	// this exercises config normalization.
	w, err := NewSyslogWriter(SyslogConfig{Host: "localhost"})
	if err != nil {
		t.Fatalf("NewSyslogWriter failed: %v", err)
	}
	defer w.Close()

	if w.addr != "localhost:514" {
		t.Errorf("Port should default to 514, got addr %s", w.addr)
	}
	if w.protocol != "udp" {
		t.Error("Protocol should default to udp")
	}
	if w.tag != "burrow" {
		t.Error("Tag should default to burrow")
	}
}
