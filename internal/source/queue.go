package source

import (
	"context"
	"sync"
	"time"

	"github.com/slidecap/slidecap/internal/types"
)

// PushQueue adapts a push-based frame producer (media callbacks) to the
// pull-based Source contract through a bounded queue. When the queue is
// full the oldest frame is dropped, so a stalled consumer bounds memory
// at capacity frames and always sees the freshest backlog.
type PushQueue struct {
	sourceID string
	frames   chan types.Frame

	mu      sync.Mutex
	closed  bool
	stats   types.SourceStats
	dropped uint64
}

// NewPushQueue creates an adapter holding at most capacity frames.
func NewPushQueue(sourceID string, capacity int) *PushQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &PushQueue{
		sourceID: sourceID,
		frames:   make(chan types.Frame, capacity),
		stats:    types.SourceStats{SourceID: sourceID},
	}
}

// Push enqueues a frame from the producer callback. Non-blocking: a full
// queue drops its oldest entry first. Frames pushed after Close are
// discarded.
func (q *PushQueue) Push(frame types.Frame) {
	// The send happens under the mutex so Close cannot close the channel
	// between the closed check and the send.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.stats.FramesRead++
	q.stats.BytesRead += uint64(len(frame.Data))

	for {
		select {
		case q.frames <- frame:
			return
		default:
			select {
			case <-q.frames:
				q.dropped++
			default:
			}
		}
	}
}

// Close marks the producer side finished. Pending frames remain
// drainable; Next returns ErrEndOfStream once the queue is empty.
func (q *PushQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.frames)
}

// Start implements Source. The producer owns its own lifecycle.
func (q *PushQueue) Start(ctx context.Context) error {
	return nil
}

// Dimensions implements Source. The producer's frame size is not known
// until frames arrive.
func (q *PushQueue) Dimensions() (int, int) {
	return 0, 0
}

// Live implements source.Live: the producer pushes regardless of
// consumption.
func (q *PushQueue) Live() bool {
	return true
}

// Next implements Source.
func (q *PushQueue) Next(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-q.frames:
		if !ok {
			return types.Frame{}, ErrEndOfStream
		}
		return frame, nil
	case <-timer.C:
		return types.Frame{}, ErrTimeout
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// Stats implements Source.
func (q *PushQueue) Stats() types.SourceStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.IsConnected = !q.closed
	s.Errors = q.dropped
	return s
}

// Stop implements Source. Equivalent to Close.
func (q *PushQueue) Stop() error {
	q.Close()
	return nil
}

// Dropped returns how many frames were discarded because the queue was
// full.
func (q *PushQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
