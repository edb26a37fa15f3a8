// Package frontend implements the per-session reader/writer worker shared
// by all three transports (plain Telnet, Telnet-TLS, SSH), per spec.md
// §4.4: each transport package adapts its wire framing to the Conn
// interface below and hands the result to RunSession.
package frontend

import "time"

// IdleTimeout bounds how long a session worker waits for a line from the
// client before treating it as gone.
const IdleTimeout = 3600 * time.Second

// Conn is the minimal bidirectional session surface the reader/writer
// worker needs. Telnet and Telnet-TLS sessions additionally dispatch
// in-band option negotiation from within ReadLine, before returning the
// decoded text; SSH's implementation has no opcodes to dispatch.
type Conn interface {
	// ReadLine blocks for the next line of user input (option bytes
	// already stripped and, for Telnet family, already dispatched). ok is
	// false on EOF, a transport error, or an idle timeout.
	ReadLine() (text string, ok bool)

	// WriteText writes an IO payload to the client.
	WriteText(p []byte) error

	// WriteOpcode writes raw Telnet option bytes. A no-op for SSH, which
	// has no Telnet option channel.
	WriteOpcode(p []byte) error

	// GoAhead writes a Telnet IAC GA following a prompt. A no-op for SSH.
	GoAhead() error

	Close() error
}
