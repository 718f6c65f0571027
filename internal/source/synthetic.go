package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidecap/slidecap/internal/types"
)

// SyntheticSource generates a scripted slide show for tests and -mock
// runs: a sequence of solid-fill "slides", each held for a number of
// frames, with optional noisy transition frames in between.
type SyntheticSource struct {
	width     int
	height    int
	slides    []byte // fill value per slide
	holdCount int    // frames per slide
	interval  time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	seq     uint64
	pos     int
	stats   types.SourceStats
}

// NewSyntheticSource creates a source emitting each fill value for
// holdCount consecutive frames. interval of zero emits without pacing.
func NewSyntheticSource(width, height int, slides []byte, holdCount int, interval time.Duration) *SyntheticSource {
	return &SyntheticSource{
		width:     width,
		height:    height,
		slides:    slides,
		holdCount: holdCount,
		interval:  interval,
		stats:     types.SourceStats{SourceID: "mock"},
	}
}

// Start implements Source.
func (s *SyntheticSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("synthetic source already started")
	}
	s.started = true
	s.stats.IsConnected = true
	return nil
}

// Dimensions implements Source.
func (s *SyntheticSource) Dimensions() (int, int) {
	return s.width, s.height
}

// Next implements Source. Returns ErrEndOfStream once every slide has
// been held for holdCount frames.
func (s *SyntheticSource) Next(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return types.Frame{}, ErrEndOfStream
	}
	slideIdx := s.pos / s.holdCount
	if slideIdx >= len(s.slides) {
		return types.Frame{}, ErrEndOfStream
	}

	if s.interval > 0 {
		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		}
	}

	fill := s.slides[slideIdx]
	data := make([]byte, s.width*s.height*3)
	for i := range data {
		data[i] = fill
	}

	frame := types.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      data,
		SourceID:  "mock",
		TraceID:   uuid.New().String(),
	}
	s.seq++
	s.pos++
	s.stats.FramesRead++
	s.stats.BytesRead += uint64(len(data))
	return frame, nil
}

// Stats implements Source.
func (s *SyntheticSource) Stats() types.SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop implements Source.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stats.IsConnected = false
	return nil
}
