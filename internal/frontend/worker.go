package frontend

import (
	"context"
	"strings"

	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/envelope"
	"github.com/stlalpha/aetherlink/internal/logging"
	"github.com/stlalpha/aetherlink/internal/session"
)

// SecretSource supplies the shared WebSocket secret stamped onto
// player/input envelopes this worker enqueues upstream.
type SecretSource interface {
	Secret() string
}

// RunSession registers sess, spawns its reader and writer loops, and
// blocks until the session ends: whichever of the two exits first causes
// the other to be cancelled, then sess is unregistered and conn closed.
// Per spec.md §4.4, reader termination (EOF) is the normal disconnect
// path; writer termination (broken pipe) is equivalent.
func RunSession(reg *session.Registry, b *bus.Bus, secrets SecretSource, sess *session.Session, conn Conn) {
	reg.Register(sess)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)

	go func() {
		readerLoop(b, secrets, sess, conn)
		done <- struct{}{}
	}()
	go func() {
		writerLoop(ctx, b, sess, conn)
		done <- struct{}{}
	}()

	<-done // first of reader/writer to exit
	sess.Disconnect()
	cancel()        // unblocks the writer if it's still waiting on the queue
	_ = conn.Close() // unblocks the reader's blocking read
	<-done

	reg.Unregister(sess.ID)
}

func readerLoop(b *bus.Bus, secrets SecretSource, sess *session.Session, conn Conn) {
	for sess.Connected() {
		text, ok := conn.ReadLine()
		if !ok {
			sess.Disconnect()
			return
		}

		payload := envelope.PlayerInputPayload{
			UUID: sess.ID,
			Addr: sess.Addr,
			Port: sess.Port,
			Msg:  strings.TrimSpace(text),
		}
		e, err := envelope.New(envelope.EventPlayerInput, secrets.Secret(), payload)
		if err != nil {
			logging.Error("frontend: failed to build player/input envelope: %v", err)
			continue
		}
		b.PushUpstream(e)
	}
}

func writerLoop(ctx context.Context, b *bus.Bus, sess *session.Session, conn Conn) {
	ch, ok := b.SessionQueue(sess.ID)
	if !ok {
		logging.Error("frontend: no outbound queue for session %s", sess.ID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			if !sess.Connected() {
				return
			}

			switch item.Kind {
			case bus.KindIO:
				if err := conn.WriteText([]byte(item.Text)); err != nil {
					logging.Info("frontend: write failed for session %s: %v", sess.ID, err)
					sess.Disconnect()
					return
				}
				if item.IsPrompt {
					if err := conn.GoAhead(); err != nil {
						sess.Disconnect()
						return
					}
				}
			case bus.KindTelnetCommand, bus.KindSSHCommand:
				if err := conn.WriteOpcode(item.Bytes); err != nil {
					logging.Info("frontend: opcode write failed for session %s: %v", sess.ID, err)
					sess.Disconnect()
					return
				}
			}
		}
	}
}
