// Package source provides the frame-pull contract consumed by the
// detector, plus adapters for video files, RTSP streams, and synthetic
// test streams.
//
// The detector always pulls: push-based media callbacks are adapted
// through a bounded queue (see PushQueue) rather than by inverting the
// detection loop.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/slidecap/slidecap/internal/types"
)

var (
	// ErrEndOfStream is returned when the source has no further frames.
	ErrEndOfStream = errors.New("source: end of stream")
	// ErrTimeout is returned when no frame arrived within the caller's
	// timeout. Transient; the caller retries on the next interval.
	ErrTimeout = errors.New("source: frame timeout")
	// ErrDecode is returned when a frame could not be decoded. Transient
	// unless it repeats.
	ErrDecode = errors.New("source: frame decode failed")
)

// Source is a pull-based frame provider. The source decodes whatever
// medium it represents into uniform BGR24 frames; the detector never
// inspects codec or capture details.
type Source interface {
	// Start prepares the source for reading.
	Start(ctx context.Context) error
	// Next returns the next frame, blocking up to timeout. Returns
	// ErrEndOfStream, ErrTimeout, or ErrDecode (possibly wrapped).
	Next(ctx context.Context, timeout time.Duration) (types.Frame, error)
	// Dimensions returns the frame size the source will deliver, known
	// after Start. (0, 0) means the size is unknown until the first
	// frame arrives.
	Dimensions() (width, height int)
	// Stats returns source statistics.
	Stats() types.SourceStats
	// Stop releases the source. Idempotent.
	Stop() error
}

// Live marks sources fed by a producer that keeps running whether or
// not frames are consumed (cameras, push queues). A paused consumer
// must keep draining a live source; a pull-based source can simply not
// be advanced.
type Live interface {
	Live() bool
}
