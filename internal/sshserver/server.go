// Package sshserver provides the pure-Go SSH transport for the connection
// front-end. It wraps gliderlabs/ssh (which itself wraps
// golang.org/x/crypto/ssh) and adds legacy algorithm support for older
// terminal clients plus read-interruptible sessions, so the session
// worker can unblock a session's reader on supervision cancellation or an
// idle timeout without waiting for the next keypress.
package sshserver

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// ErrReadInterrupted is returned by InterruptibleSession.Read when a read interrupt fires.
var ErrReadInterrupted = fmt.Errorf("read interrupted")

// Config holds SSH server configuration.
type Config struct {
	HostKeyPath string
	// HostKeyPassphrase decrypts an encrypted HostKeyPath PEM; leave empty
	// for an unencrypted key.
	HostKeyPassphrase          string
	Host                       string
	Port                       int
	LegacySSHAlgorithms        bool
	SessionHandler             func(ssh.Session)
	PasswordHandler            func(ctx ssh.Context, password string) bool
	KeyboardInteractiveHandler func(ctx ssh.Context, challenger gossh.KeyboardInteractiveChallenge) bool
	Version                    string // SSH server banner version (default: "aetherlink")
}

// Server wraps a gliderlabs/ssh server.
type Server struct {
	inner    *ssh.Server
	listener net.Listener
}

// NewServer creates and configures a new SSH server.
func NewServer(cfg Config) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// Read host key, decrypting it with the configured passphrase if one
	// was provided.
	keyBytes, err := os.ReadFile(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read host key %s: %w", cfg.HostKeyPath, err)
	}
	var signer gossh.Signer
	if cfg.HostKeyPassphrase != "" {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.HostKeyPassphrase))
	} else {
		signer, err = gossh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = "aetherlink"
	}

	srv := &ssh.Server{
		Addr:            addr,
		Handler:         cfg.SessionHandler,
		HostSigners:     []ssh.Signer{signer},
		PasswordHandler: cfg.PasswordHandler,
		Version:         version,
		ConnectionFailedCallback: func(conn net.Conn, err error) {
			log.Printf("WARN: SSH connection failed from %s: %v", conn.RemoteAddr(), err)
		},
	}
	if cfg.KeyboardInteractiveHandler != nil {
		srv.KeyboardInteractiveHandler = cfg.KeyboardInteractiveHandler
	}

	// Configure algorithm suites via ServerConfigCallback.
	// When LegacySSHAlgorithms is enabled, include older algorithms
	// (diffie-hellman-group1-sha1, 3des-cbc, hmac-sha1, ssh-rsa)
	// required by older terminal clients.
	legacy := cfg.LegacySSHAlgorithms
	srv.ServerConfigCallback = func(ctx ssh.Context) *gossh.ServerConfig {
		sc := &gossh.ServerConfig{}
		if legacy {
			log.Printf("DEBUG: SSH legacy algorithms enabled for older terminal client compatibility")
			sc.Config.KeyExchanges = []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group16-sha512",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
			}
			sc.Config.Ciphers = []string{
				"chacha20-poly1305@openssh.com",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"aes256-cbc",
				"3des-cbc",
			}
			sc.Config.MACs = []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-512-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha2-512",
				"hmac-sha1",
			}
		}
		return sc
	}

	return &Server{inner: srv}, nil
}

// ListenAndServe binds to the configured address and serves SSH connections.
// It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

// Serve starts serving on an existing listener. Blocks until closed.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	return s.inner.Serve(l)
}

// Close shuts down the server and all active connections.
func (s *Server) Close() error {
	return s.inner.Close()
}

// Cleanup is a no-op retained for API compatibility (was used to call
// ssh_finalize in the old C libssh implementation).
func Cleanup() {}

// readResult holds the outcome of a background read from the SSH channel.
type readResult struct {
	n   int
	err error
}

// InterruptibleSession wraps a gliderlabs ssh.Session with SetReadInterrupt
// support. Use WrapSession to create one.
//
// aetherlink only ever fires an interrupt once per session — the idle
// timer (sshfe's armIdleTimer) or the session worker's supervisor
// cancellation (frontend.RunSession) — and neither resumes reading
// afterward; an interrupted reader loop exits and the session is torn
// down via Close, not another Read. So unlike a door-I/O use case that
// interrupts a read to hand the terminal to a subprocess and later
// resumes it, there is no need to track or drain an orphaned goroutine
// across repeated Read calls here.
type InterruptibleSession struct {
	ssh.Session
	riMu          sync.Mutex
	readInterrupt <-chan struct{}
}

// WrapSession wraps a gliderlabs ssh.Session to add SetReadInterrupt, used
// by the SSH session worker for idle-timeout disconnects and for cleanly
// unblocking the reader when the writer side exits first.
func WrapSession(s ssh.Session) *InterruptibleSession {
	return &InterruptibleSession{Session: s}
}

// SetReadInterrupt registers a channel that, when closed, causes any
// blocked Read() to return ErrReadInterrupted without consuming data.
// Pass nil to clear the interrupt.
func (s *InterruptibleSession) SetReadInterrupt(ch <-chan struct{}) {
	s.riMu.Lock()
	s.readInterrupt = ch
	s.riMu.Unlock()
}

// Read reads from the underlying SSH channel. If a read interrupt is set
// and fires before data arrives, ErrReadInterrupted is returned without
// consuming the caller's buffer.
func (s *InterruptibleSession) Read(p []byte) (int, error) {
	s.riMu.Lock()
	interrupt := s.readInterrupt
	s.riMu.Unlock()

	if interrupt == nil {
		// No interrupt registered — direct read (no goroutine overhead).
		return s.Session.Read(p)
	}

	// Already interrupted — don't even start a read.
	select {
	case <-interrupt:
		return 0, ErrReadInterrupted
	default:
	}

	// Race the read against the interrupt channel. Use a private buffer
	// so the background goroutine never writes into the caller's
	// (possibly already-returned) slice.
	buf := make([]byte, len(p))
	ch := make(chan readResult, 1)
	go func() {
		n, err := s.Session.Read(buf)
		ch <- readResult{n: n, err: err}
	}()

	select {
	case res := <-ch:
		n := copy(p, buf[:res.n])
		return n, res.err
	case <-interrupt:
		return 0, ErrReadInterrupted
	}
}
