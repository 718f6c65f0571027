package control

import (
	"context"
	"testing"
	"time"
)

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "slidecap/control/test" }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestMessageAfterStopIsDropped(t *testing.T) {
	// A broker delivery can race the unsubscribe in Stop; it must be
	// dropped, not panic on the closed command channel.
	paused := false
	h := NewHandler(nil, "test", 1, Callbacks{
		OnPause: func() error { paused = true; return nil },
	})
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h.messageHandler(nil, &fakeMessage{payload: []byte(`{"command":"pause"}`)})
	if paused {
		t.Error("command executed after Stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	h := NewHandler(nil, "test", 1, Callbacks{})
	if err := h.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestCommandsDispatchToCallbacks(t *testing.T) {
	calls := make(chan string, 3)
	h := NewHandler(nil, "test", 1, Callbacks{
		OnPause:  func() error { calls <- "pause"; return nil },
		OnResume: func() error { calls <- "resume"; return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.processCommands(ctx)

	h.commands <- Command{Command: "pause"}
	h.commands <- Command{Command: "resume"}

	for _, want := range []string{"pause", "resume"} {
		select {
		case got := <-calls:
			if got != want {
				t.Errorf("dispatched %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
