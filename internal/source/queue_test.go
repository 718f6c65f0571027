package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slidecap/slidecap/internal/source"
	"github.com/slidecap/slidecap/internal/types"
)

func pushFrame(q *source.PushQueue, seq uint64) {
	q.Push(types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     2,
		Height:    2,
		Data:      make([]byte, 12),
	})
}

func TestPushQueueDeliversInOrder(t *testing.T) {
	q := source.NewPushQueue("test", 8)
	ctx := context.Background()

	for i := uint64(0); i < 5; i++ {
		pushFrame(q, i)
	}

	for i := uint64(0); i < 5; i++ {
		frame, err := q.Next(ctx, time.Second)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if frame.Seq != i {
			t.Errorf("frame %d has Seq %d, want %d", i, frame.Seq, i)
		}
	}
}

func TestPushQueueDropsOldestWhenFull(t *testing.T) {
	q := source.NewPushQueue("test", 2)
	ctx := context.Background()

	for i := uint64(0); i < 5; i++ {
		pushFrame(q, i)
	}

	// Capacity 2: frames 0..2 dropped, 3 and 4 retained.
	frame, err := q.Next(ctx, time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if frame.Seq != 3 {
		t.Errorf("first retained Seq = %d, want 3", frame.Seq)
	}
	if got := q.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestPushQueueTimeout(t *testing.T) {
	q := source.NewPushQueue("test", 4)

	_, err := q.Next(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, source.ErrTimeout) {
		t.Errorf("Next() on empty queue error = %v, want ErrTimeout", err)
	}
}

func TestPushQueueEndOfStreamAfterClose(t *testing.T) {
	q := source.NewPushQueue("test", 4)
	ctx := context.Background()

	pushFrame(q, 0)
	q.Close()

	// Pending frame still drains.
	if _, err := q.Next(ctx, time.Second); err != nil {
		t.Fatalf("Next() after close with pending frame error = %v", err)
	}
	_, err := q.Next(ctx, time.Second)
	if !errors.Is(err, source.ErrEndOfStream) {
		t.Errorf("Next() on drained closed queue error = %v, want ErrEndOfStream", err)
	}
}

func TestPushQueuePushAfterCloseIsNoop(t *testing.T) {
	q := source.NewPushQueue("test", 4)
	q.Close()
	pushFrame(q, 0) // must not panic

	_, err := q.Next(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, source.ErrEndOfStream) {
		t.Errorf("Next() error = %v, want ErrEndOfStream", err)
	}
}

func TestPushQueueCloseIdempotent(t *testing.T) {
	q := source.NewPushQueue("test", 4)
	q.Close()
	q.Close()
	if err := q.Stop(); err != nil {
		t.Errorf("Stop() after Close error = %v", err)
	}
}

func TestSyntheticSourceEmitsScript(t *testing.T) {
	s := source.NewSyntheticSource(8, 8, []byte{10, 200}, 3, 0)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	var fills []byte
	for {
		frame, err := s.Next(ctx, time.Second)
		if errors.Is(err, source.ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		fills = append(fills, frame.Data[0])
	}

	want := []byte{10, 10, 10, 200, 200, 200}
	if len(fills) != len(want) {
		t.Fatalf("got %d frames, want %d", len(fills), len(want))
	}
	for i := range want {
		if fills[i] != want[i] {
			t.Errorf("frame %d fill = %d, want %d", i, fills[i], want[i])
		}
	}
}
