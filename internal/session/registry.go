package session

import (
	"sort"
	"sync"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/envelope"
	"github.com/stlalpha/aetherlink/internal/logging"
)

// Registry is the process-wide session id → Session table. It owns the
// sessions it holds (spec.md §9: "treat the registry as the owner; sessions
// hold only their own id" — here sessions are looked up by the id the
// registry indexes, never reach back into it).
//
// Registry is also the soft-boot source of truth: Snapshot produces the
// game/load_players payload a newly accepted BackendLink needs.
type Registry struct {
	bus *bus.Bus

	mu       sync.RWMutex
	sessions map[string]*Session
	secret   string
}

// NewRegistry creates a Registry that publishes lifecycle notifications
// onto b's upstream queue and manages per-session queues on b.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bus:      b,
		sessions: make(map[string]*Session),
	}
}

// Register inserts s, creates its outbound queue, and enqueues a
// connection/connected envelope upstream — strictly before any
// player/input the session's reader will later enqueue, since Register is
// called before the reader is spawned.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.bus.CreateSessionQueue(s.ID)

	payload := envelope.ConnectionConnectedPayload{
		UUID: s.ID,
		Addr: s.Addr,
		Port: s.Port,
		Rows: s.Rows,
	}
	r.publish(envelope.EventConnectionConnected, payload)
}

// Unregister removes s's id from the registry and its queue map and
// enqueues connection/disconnected. Idempotent: a second call for an
// already-absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.bus.DestroySessionQueue(id)

	payload := envelope.ConnectionDisconnectedPayload{
		UUID: s.ID,
		Addr: s.Addr,
		Port: s.Port,
	}
	r.publish(envelope.EventConnectionDisconnected, payload)
}

func (r *Registry) publish(event string, payload any) {
	e, err := envelope.New(event, r.currentSecret(), payload)
	if err != nil {
		logging.Error("session registry: failed to build %s envelope: %v", event, err)
		return
	}
	r.bus.PushUpstream(e)
}

func (r *Registry) currentSecret() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.secret
}

// SetSecret sets the shared WebSocket secret stamped onto envelopes this
// registry publishes. Safe to call concurrently; picks up config reloads.
func (r *Registry) SetSecret(secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secret = secret
}

// Get returns the session for id, or nil if it is not registered.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListActive returns all live sessions, sorted by id for deterministic
// iteration (tests, logging).
func (r *Registry) ListActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Snapshot builds the game/load_players payload from the current registry
// contents: session id → [name, addr, port]. This is the soft-boot
// rendezvous a newly accepted BackendLink consumes (resolves the source's
// "iterate a dict without .items()" defect per spec.md §9(a): this walks
// key/value pairs explicitly).
func (r *Registry) Snapshot() envelope.LoadPlayersPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make(map[string][3]any, len(r.sessions))
	for id, s := range r.sessions {
		players[id] = [3]any{s.Name(), s.Addr, s.Port}
	}
	return envelope.LoadPlayersPayload{Players: players}
}
