// Package backend implements the single WebSocket link between this
// front-end process and the backend game engine, per spec.md §4.5: a
// heartbeat producer, a reader that dispatches incoming events, a writer
// that drains the upstream queue, and the soft-boot orchestrator.
package backend

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Link is one accepted backend WebSocket connection. A new accept
// supersedes whatever Link preceded it — this is the soft-boot handoff:
// client Sessions outlive any single Link.
type Link struct {
	conn   *websocket.Conn
	secret string

	writeMu sync.Mutex // serializes frames onto conn

	mu            sync.Mutex
	connected     bool
	lastHeartbeat time.Time
}

func newLink(conn *websocket.Conn, secret string) *Link {
	return &Link{
		conn:          conn,
		secret:        secret,
		connected:     true,
		lastHeartbeat: time.Now(),
	}
}

// Connected reports whether the link's reader or writer has not yet
// observed a failure.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Link) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

// recordHeartbeat stamps now as the last-heartbeat time and returns the
// previous one, for delta metrics.
func (l *Link) recordHeartbeat(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.lastHeartbeat
	l.lastHeartbeat = now
	return prev
}

// sendJSON writes v as a single WebSocket text frame. Safe for concurrent
// callers: writes to a gorilla/websocket connection must be serialized.
func (l *Link) sendJSON(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(v)
}

func (l *Link) close() {
	l.setConnected(false)
	_ = l.conn.Close()
}
