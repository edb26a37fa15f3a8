// Package telnetfe implements the plain-Telnet accept handler, per
// spec.md §4.4: write the feature-advertisement block, register the
// session, and hand a frontend.Conn wrapping the raw TCP stream to the
// shared session worker.
package telnetfe

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/frontend"
	"github.com/stlalpha/aetherlink/internal/logging"
	"github.com/stlalpha/aetherlink/internal/session"
	"github.com/stlalpha/aetherlink/internal/telnet"
)

// MSSPSource supplies the MSSP metadata served to a newly negotiating
// client, allowing a config hot-reload to take effect on the next accept.
type MSSPSource interface {
	MSSP() telnet.MSSPValues
}

// Listener accepts plain-Telnet connections and runs each through the
// shared session worker.
type Listener struct {
	Registry *session.Registry
	Bus      *bus.Bus
	Secrets  frontend.SecretSource
	MSSP     MSSPSource
}

// ListenAndServe binds addr and accepts connections until the listener
// errors or is closed. Blocks.
func (l *Listener) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telnetfe: listen %s: %w", addr, err)
	}
	defer ln.Close()
	logging.Info("telnetfe: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("telnetfe: accept: %w", err)
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(c net.Conn) {
	host, portStr, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		host = c.RemoteAddr().String()
	}
	port, _ := strconv.Atoi(portStr)

	tc := &telnetConn{conn: c, rd: bufio.NewReader(c), mssp: l.MSSP}

	// IAC WONT ECHO (client keeps local echo by default) + feature
	// advertisement, written before the session is registered.
	if _, err := c.Write(append(telnet.EchoOn(), telnet.AdvertiseFeatures()...)); err != nil {
		logging.Info("telnetfe: negotiation write failed from %s: %v", host, err)
		c.Close()
		return
	}

	sess := session.New(uuid.NewString(), host, port, session.KindTelnet, 0)
	logging.Info("telnetfe: session %s connected from %s:%d", sess.ID, host, port)

	frontend.RunSession(l.Registry, l.Bus, l.Secrets, sess, tc)

	logging.Info("telnetfe: session %s disconnected", sess.ID)
}

// telnetConn adapts a plain net.Conn to frontend.Conn, applying
// SplitOpcodeFromInput per line per spec.md §4.1's documented
// simplification (it does not reassemble sub-negotiation sequences
// embedded in user text).
type telnetConn struct {
	conn net.Conn
	rd   *bufio.Reader
	mssp MSSPSource
}

func (c *telnetConn) ReadLine() (string, bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(frontend.IdleTimeout))
	raw, err := c.rd.ReadBytes('\n')
	if len(raw) == 0 && err != nil {
		return "", false
	}

	opcodes, text := telnet.SplitOpcodeFromInput(raw)
	if len(opcodes) > 0 {
		if handleErr := telnet.Handle(opcodes, c.mssp.MSSP(), c.WriteOpcode); handleErr != nil {
			return "", false
		}
	}
	// A partial final read (err != nil but raw non-empty) still yields
	// valid decoded text; the next call surfaces the error as EOF.
	return text, true
}

func (c *telnetConn) WriteText(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *telnetConn) WriteOpcode(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *telnetConn) GoAhead() error {
	_, err := c.conn.Write(telnet.GoAheadBytes())
	return err
}

func (c *telnetConn) Close() error {
	return c.conn.Close()
}
