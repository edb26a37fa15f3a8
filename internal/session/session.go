// Package session implements the authoritative table of live client
// sessions (spec.md §4.3): a process-wide registry keyed by opaque session
// id, plus lifecycle notifications onto the message bus.
package session

import "sync"

// Kind identifies which transport a Session arrived over.
type Kind string

const (
	KindTelnet    Kind = "telnet"
	KindTelnetTLS Kind = "telnet-tls"
	KindSSH       Kind = "ssh"
)

// Session represents one connected player, stable for the life of its TCP
// connection and across backend restarts (soft-boot).
type Session struct {
	ID   string
	Addr string
	Port int
	Kind Kind
	Rows int // optional, 0 if unknown

	mu        sync.RWMutex
	name      string
	connected bool
	loggedIn  bool
}

// New constructs a Session in the connected, not-logged-in state.
func New(id, addr string, port int, kind Kind, rows int) *Session {
	return &Session{
		ID:        id,
		Addr:      addr,
		Port:      port,
		Kind:      kind,
		Rows:      rows,
		connected: true,
	}
}

// Name returns the authenticated player name, empty until the backend
// reports sign-in.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetName records the authenticated player name (players/sign-in).
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.loggedIn = name != ""
}

// Connected reports whether the session's reader/writer pair should keep
// running.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Disconnect flips the connected flag, the signal the reader and writer
// loops watch to exit (peer EOF, write failure, or a backend-issued
// sign-out/login-failed).
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// LoggedIn reports whether the backend has reported a successful sign-in
// for this session.
func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}
