package frontend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/envelope"
	"github.com/stlalpha/aetherlink/internal/session"
)

type fixedSecret string

func (f fixedSecret) Secret() string { return string(f) }

// fakeConn is a Conn backed by a scripted line queue and a recording of
// everything written back to the "client".
type fakeConn struct {
	mu      sync.Mutex
	lines   chan string
	written []string
	opcodes [][]byte
	goAhead int
	closed  bool
}

func newFakeConn(lines ...string) *fakeConn {
	ch := make(chan string, len(lines)+1)
	for _, l := range lines {
		ch <- l
	}
	return &fakeConn{lines: ch}
}

func (c *fakeConn) ReadLine() (string, bool) {
	line, ok := <-c.lines
	return line, ok
}

func (c *fakeConn) WriteText(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(p))
	return nil
}

func (c *fakeConn) WriteOpcode(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opcodes = append(c.opcodes, p)
	return nil
}

func (c *fakeConn) GoAhead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goAhead++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.lines)
	}
	return nil
}

func (c *fakeConn) snapshot() (written []string, opcodes [][]byte, goAhead int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...), append([][]byte(nil), c.opcodes...), c.goAhead
}

// S1: reader input becomes a player/input envelope upstream, trimmed.
func TestReaderEnqueuesPlayerInput(t *testing.T) {
	b := bus.New()
	reg := session.NewRegistry(b)
	reg.SetSecret("X")
	sess := session.New("U", "127.0.0.1", 55000, session.KindTelnet, 0)
	conn := newFakeConn("look\r\n")

	go RunSession(reg, b, fixedSecret("X"), sess, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := b.PopUpstream(ctx) // connection/connected
	if !ok || e.Event != envelope.EventConnectionConnected {
		t.Fatalf("expected connection/connected first, got %+v ok=%v", e, ok)
	}

	e, ok = b.PopUpstream(ctx)
	if !ok {
		t.Fatal("expected player/input envelope")
	}
	if e.Event != envelope.EventPlayerInput {
		t.Fatalf("event = %q, want player/input", e.Event)
	}
	var p envelope.PlayerInputPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Msg != "look" {
		t.Errorf("msg = %q, want %q", p.Msg, "look")
	}

	conn.Close()
}

// Writer: IO items are written, prompts get a GoAhead, Telnet commands
// write raw opcode bytes.
func TestWriterDrainsOutboundQueue(t *testing.T) {
	b := bus.New()
	reg := session.NewRegistry(b)
	reg.SetSecret("X")
	sess := session.New("U", "127.0.0.1", 1, session.KindTelnet, 0)
	conn := newFakeConn() // never sends input; ends via Close below

	done := make(chan struct{})
	go func() { RunSession(reg, b, fixedSecret("X"), sess, conn); close(done) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.PopUpstream(ctx) // drain connection/connected

	b.EnqueueToSession("U", bus.OutboundItem{Kind: bus.KindIO, Text: "A dark room.\r\n", IsPrompt: true})
	b.EnqueueToSession("U", bus.OutboundItem{Kind: bus.KindTelnetCommand, Bytes: []byte{255, 251, 1}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		written, opcodes, goAhead := conn.snapshot()
		if len(written) == 1 && len(opcodes) == 1 && goAhead == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	written, opcodes, goAhead := conn.snapshot()
	if len(written) != 1 || written[0] != "A dark room.\r\n" {
		t.Errorf("written = %v", written)
	}
	if goAhead != 1 {
		t.Errorf("goAhead = %d, want 1", goAhead)
	}
	if len(opcodes) != 1 {
		t.Errorf("opcodes = %v", opcodes)
	}

	conn.Close()
	<-done
}

// Supervision: reader EOF unregisters the session and the writer stops.
func TestReaderEOFUnregisters(t *testing.T) {
	b := bus.New()
	reg := session.NewRegistry(b)
	reg.SetSecret("X")
	sess := session.New("U", "127.0.0.1", 1, session.KindTelnet, 0)
	conn := newFakeConn()
	conn.Close() // closed before use: ReadLine returns ok=false immediately

	done := make(chan struct{})
	go func() { RunSession(reg, b, fixedSecret("X"), sess, conn); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunSession to return")
	}

	if reg.Get("U") != nil {
		t.Error("expected session unregistered after reader EOF")
	}
}
