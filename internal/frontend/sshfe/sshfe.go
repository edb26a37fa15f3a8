// Package sshfe implements the SSH accept handler. Per spec.md §4.4,
// authentication is delegated entirely to the backend game: the SSH
// server accepts any username with any password, and a successful
// channel is adapted into the same reader/writer worker the other two
// transports use.
package sshfe

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gssh "github.com/gliderlabs/ssh"
	"github.com/google/uuid"
	gocrypto "golang.org/x/crypto/ssh"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/frontend"
	"github.com/stlalpha/aetherlink/internal/logging"
	"github.com/stlalpha/aetherlink/internal/session"
	"github.com/stlalpha/aetherlink/internal/sshserver"
)

// idleTimeout mirrors frontend.IdleTimeout; SSH has no read-deadline API
// so it is enforced with a timer that closes the session's read
// interrupt instead.
const idleTimeout = frontend.IdleTimeout

// Listener accepts SSH connections and runs each through the shared
// session worker.
type Listener struct {
	Registry *session.Registry
	Bus      *bus.Bus
	Secrets  frontend.SecretSource

	HostKeyPath         string
	HostKeyPassphrase   string
	LegacySSHAlgorithms bool
}

// ListenAndServe binds addr and accepts SSH connections until the server
// errors or is closed. Blocks.
func (l *Listener) ListenAndServe(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("sshfe: invalid addr %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("sshfe: invalid port in %s: %w", addr, err)
	}

	cfg := sshserver.Config{
		HostKeyPath:         l.HostKeyPath,
		HostKeyPassphrase:   l.HostKeyPassphrase,
		Host:                host,
		Port:                port,
		LegacySSHAlgorithms: l.LegacySSHAlgorithms,
		Version:             "aetherlink",
		SessionHandler:      l.handle,
		PasswordHandler: func(ctx gssh.Context, password string) bool {
			return true
		},
		KeyboardInteractiveHandler: func(ctx gssh.Context, challenger gocrypto.KeyboardInteractiveChallenge) bool {
			return true
		},
	}

	srv, err := sshserver.NewServer(cfg)
	if err != nil {
		return err
	}

	logging.Info("sshfe: listening on %s", addr)
	return srv.ListenAndServe()
}

func (l *Listener) handle(s gssh.Session) {
	host, portStr, err := net.SplitHostPort(s.RemoteAddr().String())
	if err != nil {
		host = s.RemoteAddr().String()
	}
	port, _ := strconv.Atoi(portStr)

	wrapped := sshserver.WrapSession(s)
	sc := &sshConn{session: wrapped, rd: bufio.NewReader(wrapped)}
	sc.armIdleTimer()

	sess := session.New(uuid.NewString(), host, port, session.KindSSH, 0)
	logging.Info("sshfe: session %s connected from %s:%d", sess.ID, host, port)

	frontend.RunSession(l.Registry, l.Bus, l.Secrets, sess, sc)

	sc.stopIdleTimer()
	logging.Info("sshfe: session %s disconnected", sess.ID)
}

// sshConn adapts a read-interruptible SSH session to frontend.Conn. SSH
// carries no Telnet option channel, so WriteOpcode and GoAhead are no-ops
// (the backend dispatcher also never emits COMMAND-TELNET for SSH
// sessions, per spec.md §4.5's "Telnet-family sessions only" rule).
type sshConn struct {
	session *sshserver.InterruptibleSession
	rd      *bufio.Reader

	interrupt     chan struct{}
	interruptOnce sync.Once
	timer         *time.Timer
}

func (c *sshConn) armIdleTimer() {
	c.interrupt = make(chan struct{})
	c.session.SetReadInterrupt(c.interrupt)
	c.timer = time.AfterFunc(idleTimeout, c.fireIdleTimeout)
}

// fireIdleTimeout closes the interrupt channel. It runs from the idle
// timer and from Close. Guarded by sync.Once: a reset AfterFunc timer can
// still fire a second time after its first firing already closed the
// channel (Reset on an already-expired timer just reschedules it), Close
// may follow a firing, and closing a closed channel panics.
func (c *sshConn) fireIdleTimeout() {
	c.interruptOnce.Do(func() { close(c.interrupt) })
}

func (c *sshConn) resetIdleTimer() {
	if c.timer != nil {
		c.timer.Reset(idleTimeout)
	}
}

func (c *sshConn) stopIdleTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *sshConn) ReadLine() (string, bool) {
	line, err := c.rd.ReadString('\n')
	if len(line) == 0 && err != nil {
		return "", false
	}
	c.resetIdleTimer()
	return line, true
}

func (c *sshConn) WriteText(p []byte) error {
	_, err := c.session.Write(p)
	return err
}

func (c *sshConn) WriteOpcode(p []byte) error { return nil }

func (c *sshConn) GoAhead() error { return nil }

func (c *sshConn) Close() error {
	c.stopIdleTimer()
	if c.interrupt != nil {
		c.fireIdleTimeout() // unblock a reader still waiting in Read
	}
	return c.session.Exit(0)
}
