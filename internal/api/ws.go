// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 120 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the inbound control frame from a stream client.
type clientMessage struct {
	Type string `json:"type"`
}

// handleStream upgrades the connection and bridges the event bus onto it.
// The first frame a client sees is the connected notice; a {"type":"ping"}
// frame is answered with a pong event on the same subscriber queue, so it
// cannot overtake queued traffic.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := s.broadcast.Subscribe()
	s.logger.Info("stream client connected", "remote", r.RemoteAddr)

	// Reader: consumes control frames until the client goes away, then
	// detaches the subscriber, which unblocks the writer.
	go func() {
		defer s.broadcast.Unsubscribe(sub)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				// Tolerate bare-text pings from minimal clients.
				if strings.TrimSpace(string(data)) != "ping" {
					continue
				}
				msg.Type = "ping"
			}
			if msg.Type == "ping" {
				s.broadcast.Pong(sub)
			}
		}
	}()

	// Writer: drains the subscriber queue onto the socket.
	go func() {
		defer func() {
			s.broadcast.Unsubscribe(sub)
			_ = conn.Close()
			s.logger.Info("stream client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			ev, ok := sub.Receive()
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()
}
