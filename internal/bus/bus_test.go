package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stlalpha/aetherlink/internal/envelope"
)

func TestUpstreamPushPop(t *testing.T) {
	b := New()
	e, _ := envelope.New(envelope.EventPlayerInput, "secret", nil)
	b.PushUpstream(e)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := b.PopUpstream(ctx)
	if !ok {
		t.Fatal("expected envelope")
	}
	if got.Event != envelope.EventPlayerInput {
		t.Errorf("event = %q", got.Event)
	}
}

func TestPopUpstreamRespectsContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := b.PopUpstream(ctx)
	if ok {
		t.Fatal("expected no envelope before timeout")
	}
}

// TestPopUpstreamCancelDoesNotConsume guards against the soft-boot bug
// where a cancelled writer's Pop steals an item meant for the next
// link: cancel a blocked call, push once it has returned, then confirm a
// fresh, uncancelled PopUpstream still observes the pushed envelope.
func TestPopUpstreamCancelDoesNotConsume(t *testing.T) {
	b := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.PopUpstream(ctx)
		close(done)
	}()

	cancel()
	<-done

	e, _ := envelope.New(envelope.EventPlayerInput, "secret", nil)
	b.PushUpstream(e)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got, ok := b.PopUpstream(ctx2)
	if !ok {
		t.Fatal("expected the pushed envelope to survive the cancelled popper")
	}
	if got.Event != envelope.EventPlayerInput {
		t.Errorf("event = %q", got.Event)
	}
}

func TestSessionQueueLifecycle(t *testing.T) {
	b := New()
	b.CreateSessionQueue("s1")

	b.EnqueueToSession("s1", OutboundItem{Kind: KindIO, Text: "hi"})
	ch, ok := b.SessionQueue("s1")
	if !ok {
		t.Fatal("expected queue for s1")
	}
	select {
	case item := <-ch:
		if item.Text != "hi" {
			t.Errorf("text = %q", item.Text)
		}
	default:
		t.Fatal("expected queued item")
	}

	b.DestroySessionQueue("s1")
	if _, ok := b.SessionQueue("s1"); ok {
		t.Error("expected queue to be gone after destroy")
	}
}

func TestEnqueueToUnknownSessionDropped(t *testing.T) {
	b := New()
	// Should not panic; just logged and dropped.
	b.EnqueueToSession("ghost", OutboundItem{Kind: KindIO, Text: "x"})
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	b := NewWithCapacity(2)
	b.CreateSessionQueue("s1")

	b.EnqueueToSession("s1", OutboundItem{Kind: KindIO, Text: "1"})
	b.EnqueueToSession("s1", OutboundItem{Kind: KindIO, Text: "2"})
	b.EnqueueToSession("s1", OutboundItem{Kind: KindIO, Text: "3"}) // overflow, drops "1"

	ch, _ := b.SessionQueue("s1")
	first := <-ch
	second := <-ch
	if first.Text != "2" || second.Text != "3" {
		t.Errorf("got %q, %q; want 2, 3 (oldest dropped)", first.Text, second.Text)
	}
}
