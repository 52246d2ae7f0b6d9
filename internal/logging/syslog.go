// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// SyslogConfig controls forwarding of log output to a remote syslog server.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional"`
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	Protocol string `hcl:"protocol,optional"` // "udp" or "tcp"
	Tag      string `hcl:"tag,optional"`
	Facility int    `hcl:"facility,optional"` // syslog facility code
}

// DefaultSyslogConfig returns the disabled default syslog configuration.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "burrow",
		Facility: 1,
	}
}

// SyslogWriter forwards each Write as one RFC 3164 syslog message.
// Connection failures are retried lazily on the next write.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	addr     string
	protocol string
	tag      string
	facility int
	hostname string
}

// NewSyslogWriter creates a writer for the given configuration. Host is
// required; Port, Protocol and Tag are defaulted when empty.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "burrow"
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	w := &SyslogWriter{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		protocol: cfg.Protocol,
		tag:      cfg.Tag,
		facility: cfg.Facility,
		hostname: hostname,
	}

	// Connect eagerly so configuration errors surface at startup, but a
	// refused connection is not fatal for UDP.
	conn, err := net.DialTimeout(w.protocol, w.addr, 3*time.Second)
	if err != nil {
		if w.protocol == "tcp" {
			return nil, fmt.Errorf("syslog connection failed: %w", err)
		}
	} else {
		w.conn = conn
	}

	return w, nil
}

// Write sends p as a single syslog message at severity "info".
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, err := net.DialTimeout(w.protocol, w.addr, 3*time.Second)
		if err != nil {
			return 0, err
		}
		w.conn = conn
	}

	// PRI = facility*8 + severity (6 = informational).
	pri := w.facility*8 + 6
	msg := fmt.Sprintf("<%d>%s %s %s: %s",
		pri, time.Now().Format(time.Stamp), w.hostname, w.tag, p)

	if _, err := w.conn.Write([]byte(msg)); err != nil {
		w.conn.Close()
		w.conn = nil
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}
