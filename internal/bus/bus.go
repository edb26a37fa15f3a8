// Package bus implements the message fabric between client sessions and
// the backend link: one unbounded upstream queue and one bounded
// per-session outbound queue apiece, per spec.md §4.2.
package bus

import (
	"context"
	"sync"

	"github.com/stlalpha/aetherlink/internal/envelope"
	"github.com/stlalpha/aetherlink/internal/logging"
)

// ItemKind tags an OutboundItem's payload, replacing the source's
// duck-typed is_io/is_command_telnet/is_prompt union with an explicit
// variant (spec.md §9).
type ItemKind int

const (
	KindIO ItemKind = iota
	KindTelnetCommand
	KindSSHCommand
)

// OutboundItem is one value on a session's outbound queue.
type OutboundItem struct {
	Kind ItemKind

	// Text and IsPrompt are set for KindIO.
	Text     string
	IsPrompt bool

	// Bytes holds raw option bytes for KindTelnetCommand / KindSSHCommand.
	Bytes []byte
}

// DefaultSessionQueueCapacity bounds each per-session outbound queue.
const DefaultSessionQueueCapacity = 64

// Bus owns the upstream queue and the table of per-session outbound
// queues. The table is guarded by a mutex per spec.md §5's requirement
// that insertion and lookup be atomic on a parallel-threaded runtime.
type Bus struct {
	upstream *unboundedQueue[envelope.Envelope]

	mu       sync.RWMutex
	sessions map[string]chan OutboundItem
	capacity int
}

// New creates a Bus with the default per-session queue capacity.
func New() *Bus {
	return NewWithCapacity(DefaultSessionQueueCapacity)
}

// NewWithCapacity creates a Bus whose per-session queues hold at most cap
// items before the oldest is dropped.
func NewWithCapacity(capacity int) *Bus {
	return &Bus{
		upstream: newUnboundedQueue[envelope.Envelope](),
		sessions: make(map[string]chan OutboundItem),
		capacity: capacity,
	}
}

// PushUpstream enqueues an envelope bound for the backend. Never blocks.
func (b *Bus) PushUpstream(e envelope.Envelope) {
	b.upstream.Push(e)
}

// PopUpstream blocks until an envelope is available or ctx is done. ok is
// false if ctx was cancelled first; the queue itself is only closed at
// process shutdown via Close. Cancellation never consumes an item — a
// cancelled call leaves the queue exactly as it found it, so the next
// link's writer (not an abandoned goroutine from this one) gets it.
func (b *Bus) PopUpstream(ctx context.Context) (e envelope.Envelope, ok bool) {
	return b.upstream.PopCtx(ctx)
}

// Close shuts down the upstream queue, unblocking any pending PopUpstream.
func (b *Bus) Close() {
	b.upstream.Close()
}

// CreateSessionQueue allocates the outbound queue for a newly registered
// session. Called by the session registry at Register time.
func (b *Bus) CreateSessionQueue(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = make(chan OutboundItem, b.capacity)
}

// DestroySessionQueue drops a session's outbound queue. Called by the
// session registry at Unregister time; any pending items are discarded.
func (b *Bus) DestroySessionQueue(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// SessionQueue returns the outbound channel for a session, for the
// session's writer task to range/receive over. ok is false if no such
// session is registered.
func (b *Bus) SessionQueue(sessionID string) (ch chan OutboundItem, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok = b.sessions[sessionID]
	return ch, ok
}

// EnqueueToSession writes an item to a session's outbound queue. Writes to
// an unknown session id are dropped with a warning, per spec.md §4.2.
// Overflow is handled by dropping the oldest queued item rather than
// blocking the producer (the backend dispatcher), per spec.md §5.
func (b *Bus) EnqueueToSession(sessionID string, item OutboundItem) {
	b.mu.RLock()
	ch, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		logging.Warn("bus: enqueue to unknown session %s dropped", sessionID)
		return
	}

	select {
	case ch <- item:
		return
	default:
	}

	// Queue full: drop the oldest item, then enqueue the new one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- item:
	default:
		// Lost a race with the consumer; nothing more we can do without
		// blocking.
	}
}
