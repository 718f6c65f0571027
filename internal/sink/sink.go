// Package sink delivers accepted slides to their destinations: a slide
// directory on disk, an MQTT event stream, or object storage. Sinks
// receive slides in strictly increasing index order and must treat them
// as immutable.
package sink

import (
	"context"
	"fmt"
	"image"

	"github.com/slidecap/slidecap/internal/types"
)

// Sink receives accepted slides as they are emitted.
type Sink interface {
	// Write delivers one slide. Called sequentially from the session
	// loop, in index order.
	Write(ctx context.Context, slide *types.AcceptedSlide) error
	// Close finalizes the sink. Idempotent.
	Close() error
}

// Multi fans a slide out to several sinks in order. A failing sink is
// reported but does not prevent delivery to the remaining sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti wraps the given sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write implements Sink.
func (m *Multi) Write(ctx context.Context, slide *types.AcceptedSlide) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(ctx, slide); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Sink.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// bgrToRGBA converts BGR24 frame data to an image.RGBA for encoding.
func bgrToRGBA(frame *types.Frame) (*image.RGBA, error) {
	expected := frame.Width * frame.Height * 3
	if len(frame.Data) != expected {
		return nil, fmt.Errorf("invalid BGR data size: got %d, expected %d",
			len(frame.Data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+2] // R
		img.Pix[i*4+1] = frame.Data[i*3+1] // G
		img.Pix[i*4+2] = frame.Data[i*3+0] // B
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
