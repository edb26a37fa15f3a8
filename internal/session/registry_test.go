package session

import (
	"context"
	"testing"
	"time"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/envelope"
)

func newTestRegistry() (*Registry, *bus.Bus) {
	b := bus.New()
	r := NewRegistry(b)
	r.SetSecret("X")
	return r, b
}

func popUpstream(t *testing.T, b *bus.Bus) envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := b.PopUpstream(ctx)
	if !ok {
		t.Fatal("expected an upstream envelope")
	}
	return e
}

func TestRegisterPublishesConnectionConnected(t *testing.T) {
	r, b := newTestRegistry()
	s := New("U1", "127.0.0.1", 55000, KindTelnet, 0)
	r.Register(s)

	e := popUpstream(t, b)
	if e.Event != envelope.EventConnectionConnected {
		t.Errorf("event = %q, want connection/connected", e.Event)
	}
	if e.Secret != "X" {
		t.Errorf("secret = %q, want X", e.Secret)
	}
}

// Testable property 2: register/unregister symmetry.
func TestUnregisterRemovesSessionAndQueue(t *testing.T) {
	r, b := newTestRegistry()
	s := New("U1", "127.0.0.1", 1, KindTelnet, 0)
	r.Register(s)
	popUpstream(t, b) // drain connected

	r.Unregister("U1")
	popUpstream(t, b) // drain disconnected

	if r.Get("U1") != nil {
		t.Error("expected session gone from registry")
	}
	if _, ok := b.SessionQueue("U1"); ok {
		t.Error("expected per-session queue gone")
	}
}

// Testable property 2: unregister on an absent id is a no-op.
func TestUnregisterAbsentIsNoop(t *testing.T) {
	r, b := newTestRegistry()
	r.Unregister("ghost")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.PopUpstream(ctx); ok {
		t.Error("expected no envelope from unregistering an absent session")
	}
}

func TestListActiveSortedByID(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(New("b", "h", 1, KindSSH, 0))
	r.Register(New("a", "h", 1, KindSSH, 0))

	active := r.ListActive()
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("expected sorted [a b], got %v", active)
	}
}

func TestGetUnknown(t *testing.T) {
	r, _ := newTestRegistry()
	if r.Get("nope") != nil {
		t.Error("expected nil for unknown id")
	}
}

// Testable property 6: soft-boot preservation — snapshot reflects every
// live session by id.
func TestSnapshotReflectsLiveSessions(t *testing.T) {
	r, _ := newTestRegistry()
	a := New("A", "10.0.0.1", 1, KindTelnet, 0)
	a.SetName("alice")
	b := New("B", "10.0.0.2", 2, KindSSH, 0)
	b.SetName("bob")
	r.Register(a)
	r.Register(b)

	snap := r.Snapshot()
	if len(snap.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(snap.Players))
	}
	got, ok := snap.Players["A"]
	if !ok || got[0] != "alice" || got[1] != "10.0.0.1" || got[2] != 1 {
		t.Errorf("players[A] = %v", got)
	}
}

func TestLen(t *testing.T) {
	r, _ := newTestRegistry()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got len %d", r.Len())
	}
	r.Register(New("A", "h", 1, KindTelnet, 0))
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}
}
