// Package stream provides the WebSocket fan-out used by the telemetry
// daemon. Clients of `craft telemetry watch` connect to /ws and receive
// every daemon event (heartbeats, state changes, relay outcomes) in real
// time. Ping/pong keepalives clean up stale connections automatically.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// EventType identifies the kind of daemon event carried over the stream.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventRecord    EventType = "record"
	EventLog       EventType = "log"
)

// NowTS returns the current UTC time as an RFC 3339 nano string, the
// timestamp format stamped onto every streamed event.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Hub fans broadcast messages out to every connected watcher. It is safe
// for concurrent use; registrations, removals, and broadcasts all flow
// through channels into a single event loop.
type Hub struct {
	watchers map[*websocket.Conn]struct{}
	attach   chan *websocket.Conn
	detach   chan *websocket.Conn
	events   chan []byte
	upgrader websocket.Upgrader
}

// NewHub allocates a hub with buffered channels. Call Run in a goroutine to
// start the event loop.
func NewHub() *Hub {
	return &Hub{
		watchers: make(map[*websocket.Conn]struct{}),
		attach:   make(chan *websocket.Conn, 8),
		detach:   make(chan *websocket.Conn, 8),
		events:   make(chan []byte, 128),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				// The daemon only listens on loopback.
				return true
			},
		},
	}
}

// Run processes attachments, detachments, broadcasts, and keepalive pings
// in a single select loop. It closes every watcher when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.watchers {
				_ = c.Close()
			}
			return

		case c := <-h.attach:
			h.watchers[c] = struct{}{}

		case c := <-h.detach:
			delete(h.watchers, c)
			_ = c.Close()

		case msg := <-h.events:
			for c := range h.watchers {
				_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.watchers, c)
					_ = c.Close()
				}
			}

		case <-ping.C:
			for c := range h.watchers {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					delete(h.watchers, c)
					_ = c.Close()
				}
			}
		}
	}
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and attaches them to the hub. Watchers are
// read-drained so control frames keep flowing; any payload they send is
// ignored.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.attach <- conn

		go func() {
			defer func() { h.detach <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// Publish stamps the payload with a type and timestamp, marshals it, and
// queues it for delivery. A full queue drops the event rather than blocking
// the daemon's relay loop.
func (h *Hub) Publish(kind EventType, fields map[string]any) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = string(kind)
	payload["ts"] = NowTS()

	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case h.events <- b:
	default:
	}
}
