// Package telnetlsfe implements the Telnet-over-TLS accept handler.
// Identical accept dance to plain Telnet (package telnetfe), but the
// transport is TLS-wrapped and the reader uses telnet.Decoder, a full
// stream parser that reassembles sub-negotiation sequences embedded in
// the client stream instead of the plain splitter's simplification, per
// spec.md §4.4.
package telnetlsfe

import (
	"bytes"
	"crypto/tls"
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

// handshakeTimeout bounds how long the TLS handshake may take before the
// connection is abandoned.
const handshakeTimeout = 5 * time.Second

// nawsGraceWindow is how long accept reads for a NAWS reply to
// RequestNAWS before registering the session. Most clients that support
// NAWS send the sub-negotiation unprompted, immediately after agreeing to
// it, so this is ample in practice. Every accept waits out the whole
// window, whether or not the client supports NAWS.
const nawsGraceWindow = 150 * time.Millisecond

// MSSPSource supplies the MSSP metadata served to a newly negotiating
// client, allowing a config hot-reload to take effect on the next accept.
type MSSPSource interface {
	MSSP() telnet.MSSPValues
}

// Listener accepts Telnet-TLS connections and runs each through the
// shared session worker.
type Listener struct {
	Registry *session.Registry
	Bus      *bus.Bus
	Secrets  frontend.SecretSource
	MSSP     MSSPSource

	// CertPath/KeyPath name the PEM server certificate and key.
	CertPath string
	KeyPath  string
}

// tlsConfig pins the cipher suite to the pair spec.md §6 names:
// ECDHE-ECDSA-AES256-GCM-SHA384 and ECDHE-RSA-AES256-GCM-SHA384.
func tlsConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("telnetlsfe: load cert/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}, nil
}

// ListenAndServe binds addr with TLS and accepts connections until the
// listener errors or is closed. Blocks.
func (l *Listener) ListenAndServe(addr string) error {
	cfg, err := tlsConfig(l.CertPath, l.KeyPath)
	if err != nil {
		return err
	}

	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("telnetlsfe: listen %s: %w", addr, err)
	}
	defer ln.Close()
	logging.Info("telnetlsfe: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("telnetlsfe: accept: %w", err)
		}
		go l.handle(conn.(*tls.Conn))
	}
}

func (l *Listener) handle(c *tls.Conn) {
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := c.Handshake(); err != nil {
		logging.Info("telnetlsfe: TLS handshake failed: %v", err)
		c.Close()
		return
	}
	_ = c.SetDeadline(time.Time{})

	host, portStr, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		host = c.RemoteAddr().String()
	}
	port, _ := strconv.Atoi(portStr)

	tc := &decodingConn{conn: c, dec: telnet.NewDecoder(), mssp: l.MSSP}

	negotiation := append(telnet.EchoOn(), telnet.AdvertiseFeatures()...)
	negotiation = append(negotiation, telnet.RequestNAWS()...)
	if _, err := c.Write(negotiation); err != nil {
		logging.Info("telnetlsfe: negotiation write failed from %s: %v", host, err)
		c.Close()
		return
	}

	sess := session.New(uuid.NewString(), host, port, session.KindTelnetTLS, 0)
	tc.dec.OnNAWS = func(width, height int) { sess.Rows = height }

	// Give a well-behaved client a brief window to answer RequestNAWS
	// before connection/connected is published, so Session.Rows is
	// populated at registration instead of only after (spec.md §3's
	// "terminal row count (optional)" attribute is otherwise never
	// observed by the backend for a NAWS-capable client).
	tc.primeNAWS(nawsGraceWindow)

	logging.Info("telnetlsfe: session %s connected from %s:%d", sess.ID, host, port)

	frontend.RunSession(l.Registry, l.Bus, l.Secrets, sess, tc)

	logging.Info("telnetlsfe: session %s disconnected", sess.ID)
}

// decodingConn adapts a net.Conn (in production, a *tls.Conn) to
// frontend.Conn via telnet.Decoder, which preserves non-opcode bytes
// (including UTF-8 continuation bytes) and reassembles sub-negotiation
// sequences the naive splitter cannot.
type decodingConn struct {
	conn net.Conn
	dec  *telnet.Decoder
	mssp MSSPSource
	buf  []byte
}

// primeNAWS reads from the client for d after an already-sent RequestNAWS
// before the caller proceeds; it returns early only on a read error, not
// when a NAWS reply arrives. Any bytes read (NAWS
// sub-negotiation or otherwise) are decoded immediately; decoded text is
// kept in c.buf for the first real ReadLine call, so nothing is lost if
// the client front-loads actual input ahead of the negotiation reply.
func (c *decodingConn) primeNAWS(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		_ = c.conn.SetReadDeadline(deadline)
		raw := make([]byte, 256)
		n, err := c.conn.Read(raw)
		if n > 0 {
			c.buf = append(c.buf, c.dec.Write(raw[:n])...)
		}
		if err != nil {
			break
		}
	}
	_ = c.conn.SetReadDeadline(time.Time{})
}

func (c *decodingConn) ReadLine() (string, bool) {
	for {
		if idx := bytes.IndexByte(c.buf, '\n'); idx >= 0 {
			line := c.buf[:idx]
			c.buf = c.buf[idx+1:]
			return string(bytes.TrimRight(line, "\r")), true
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(frontend.IdleTimeout))
		raw := make([]byte, 4096)
		n, err := c.conn.Read(raw)
		if n > 0 {
			c.buf = append(c.buf, c.dec.Write(raw[:n])...)
			if opcodes := c.dec.Take(); len(opcodes) > 0 {
				if handleErr := telnet.Handle(opcodes, c.mssp.MSSP(), c.WriteOpcode); handleErr != nil {
					return "", false
				}
			}
		}
		if err != nil {
			return "", false
		}
	}
}

func (c *decodingConn) WriteText(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *decodingConn) WriteOpcode(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *decodingConn) GoAhead() error {
	_, err := c.conn.Write(telnet.GoAheadBytes())
	return err
}

func (c *decodingConn) Close() error {
	return c.conn.Close()
}
