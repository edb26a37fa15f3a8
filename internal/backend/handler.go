package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/envelope"
	"github.com/stlalpha/aetherlink/internal/logging"
	"github.com/stlalpha/aetherlink/internal/session"
	"github.com/stlalpha/aetherlink/internal/telnet"
)

const (
	heartbeatInterval = 10 * time.Second
	// livenessTimeout bounds how long the reader waits for any frame
	// (heartbeat or otherwise) before it gives up on the link — spec.md §5
	// notes the specified behavior has no such timer and implementers
	// SHOULD add one; this is 3x the heartbeat cadence.
	livenessTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SecretSource supplies the shared WebSocket secret at the moment it is
// needed, so a config hot-reload (fsnotify) takes effect without tearing
// down an active Link.
type SecretSource interface {
	Secret() string
}

// Handler accepts the backend's WebSocket connection and drives its full
// lifecycle. Only one Link is active at a time.
type Handler struct {
	bus      *bus.Bus
	registry *session.Registry
	secrets  SecretSource

	// SoftbootCommand is the argv used to relaunch the backend process.
	// A nil/empty command makes scheduleSoftboot a no-op save for logging,
	// which keeps this package usable in tests that never exercise it.
	SoftbootCommand []string

	mu      sync.Mutex
	current *Link
	cancel  context.CancelFunc // cancels current's tasks
	tasks   int32
}

// NewHandler creates a Handler bound to b and r, validating inbound
// frames against the secret secrets currently reports.
func NewHandler(b *bus.Bus, r *session.Registry, secrets SecretSource) *Handler {
	return &Handler{bus: b, registry: r, secrets: secrets}
}

// ServeHTTP upgrades the request to a WebSocket and runs the link's
// heartbeat, reader, and writer tasks until one of them exits.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("backend: upgrade failed: %v", err)
		return
	}

	link := newLink(conn, h.secrets.Secret())
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	prevCancel := h.cancel
	h.current = link
	h.cancel = cancel
	h.mu.Unlock()

	// A new accept supersedes any previous link: cancel that link's tasks.
	// Client Sessions are not touched.
	if prevCancel != nil {
		prevCancel()
	}

	logging.Info("backend: link accepted from %s", r.RemoteAddr)

	// Soft-boot rendezvous: a non-empty registry means Sessions survived a
	// prior link's death; hand the new backend their state immediately,
	// before spawning any task that could race ahead of it.
	if h.registry.Len() > 0 {
		payload := h.registry.Snapshot()
		e, err := envelope.New(envelope.EventGameLoadPlayers, link.secret, payload)
		if err != nil {
			logging.Error("backend: failed to build game/load_players: %v", err)
		} else if err := link.sendJSON(e); err != nil {
			logging.Error("backend: failed to send game/load_players: %v", err)
		}
	}

	done := make(chan struct{}, 3)
	go func() { h.heartbeatLoop(ctx, link); done <- struct{}{} }()
	go func() { h.readerLoop(ctx, link); done <- struct{}{} }()
	go func() { h.writerLoop(ctx, link); done <- struct{}{} }()

	<-done  // first of the three tasks to exit
	cancel() // narrow cancellation: only this link's own tasks

	h.mu.Lock()
	if h.current == link {
		h.current = nil
		h.cancel = nil
	}
	h.mu.Unlock()

	link.close()
	logging.Info("backend: link closed")
}

func (h *Handler) heartbeatLoop(ctx context.Context, link *Link) {
	atomic.AddInt32(&h.tasks, 1)
	defer atomic.AddInt32(&h.tasks, -1)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extra := envelope.HeartbeatExtra{
				Event:  envelope.EventHeartbeat,
				Tasks:  int(atomic.LoadInt32(&h.tasks)),
				Secret: h.secrets.Secret(),
			}
			if err := link.sendJSON(extra); err != nil {
				logging.Warn("backend: heartbeat send failed: %v", err)
				link.setConnected(false)
				return
			}
		}
	}
}

func (h *Handler) readerLoop(ctx context.Context, link *Link) {
	atomic.AddInt32(&h.tasks, 1)
	defer atomic.AddInt32(&h.tasks, -1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = link.conn.SetReadDeadline(time.Now().Add(livenessTimeout))
		_, raw, err := link.conn.ReadMessage()
		if err != nil {
			logging.Info("backend: reader exiting: %v", err)
			link.setConnected(false)
			return
		}

		var e envelope.Envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			logging.Warn("backend: malformed frame dropped: %v", err)
			continue
		}

		// Drop-and-continue on a bad secret (spec.md §9(c)): one bad
		// frame never tears down the link.
		want := h.secrets.Secret()
		if e.Secret == "" || e.Secret != want {
			logging.Warn("backend: frame with bad secret dropped (event=%s)", e.Event)
			continue
		}

		h.dispatch(link, e)
	}
}

func (h *Handler) dispatch(link *Link, e envelope.Envelope) {
	switch e.Event {
	case envelope.EventHeartbeat:
		now := time.Now()
		prev := link.recordHeartbeat(now)
		logging.Debug("backend: heartbeat delta=%s", now.Sub(prev))

	case envelope.EventPlayersOutput:
		var p envelope.PlayersOutputPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			logging.Warn("backend: bad players/output payload: %v", err)
			return
		}
		h.bus.EnqueueToSession(p.UUID, bus.OutboundItem{
			Kind:     bus.KindIO,
			Text:     p.Message,
			IsPrompt: p.IsPrompt == "true",
		})

	case envelope.EventPlayersSignIn:
		var p envelope.PlayersSignInPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			logging.Warn("backend: bad players/sign-in payload: %v", err)
			return
		}
		if s := h.registry.Get(p.UUID); s != nil {
			s.SetName(p.Name)
		}

	case envelope.EventPlayersSignOut, envelope.EventPlayersLoginFailed:
		var p envelope.PlayersSignOutPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			logging.Warn("backend: bad %s payload: %v", e.Event, err)
			return
		}
		h.bus.EnqueueToSession(p.UUID, bus.OutboundItem{Kind: bus.KindIO, Text: p.Message})
		if s := h.registry.Get(p.UUID); s != nil {
			s.Disconnect()
		}

	case envelope.EventPlayerSessionCmd:
		var p envelope.PlayerSessionCommandPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			logging.Warn("backend: bad player/session command payload: %v", err)
			return
		}
		s := h.registry.Get(p.UUID)
		if s == nil || s.Kind == session.KindSSH {
			return
		}
		var raw []byte
		switch p.Command {
		case envelope.SessionCommandDoEcho:
			raw = telnet.EchoOn()
		case envelope.SessionCommandDontEcho:
			raw = telnet.EchoOff()
		default:
			return
		}
		h.bus.EnqueueToSession(p.UUID, bus.OutboundItem{Kind: bus.KindTelnetCommand, Bytes: raw})

	case envelope.EventGameSoftboot:
		var p envelope.GameSoftbootPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			logging.Warn("backend: bad game/softboot payload: %v", err)
			return
		}
		h.scheduleSoftboot(p.WaitTime)

	default:
		logging.Debug("backend: ignoring unknown event %q", e.Event)
	}
}

func (h *Handler) writerLoop(ctx context.Context, link *Link) {
	atomic.AddInt32(&h.tasks, 1)
	defer atomic.AddInt32(&h.tasks, -1)

	for {
		e, ok := h.bus.PopUpstream(ctx)
		if !ok {
			return
		}
		if err := link.sendJSON(e); err != nil {
			logging.Warn("backend: upstream send failed: %v", err)
			link.setConnected(false)
			return
		}
	}
}

// scheduleSoftboot sleeps waitTime seconds then relaunches the backend
// process. It does not wait for the new backend's WebSocket to connect;
// when that happens, ServeHTTP's accept path sees the still-populated
// Session registry and replays game/load_players.
func (h *Handler) scheduleSoftboot(waitTime int) {
	if len(h.SoftbootCommand) == 0 {
		logging.Warn("backend: game/softboot received but no spawn command configured")
		return
	}
	logging.Info("backend: soft-boot scheduled in %ds", waitTime)
	time.AfterFunc(time.Duration(waitTime)*time.Second, func() {
		argv := h.SoftbootCommand
		cmd := exec.Command(argv[0], argv[1:]...)
		if err := cmd.Start(); err != nil {
			logging.Error("backend: soft-boot spawn failed: %v", err)
			return
		}
		logging.Info("backend: soft-boot spawned pid=%d", cmd.Process.Pid)
		go func() {
			if err := cmd.Wait(); err != nil {
				logging.Warn("backend: soft-boot process exited: %v", err)
			}
		}()
	})
}
