// Package detector runs the detection session: it pulls frames from a
// source, crops them to the configured region, feeds them through the
// stability tracker, and delivers accepted slides to the sinks, all on
// a single loop so slide order is never a question of scheduling.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/slidecap/slidecap/internal/metrics"
	"github.com/slidecap/slidecap/internal/region"
	"github.com/slidecap/slidecap/internal/similarity"
	"github.com/slidecap/slidecap/internal/sink"
	"github.com/slidecap/slidecap/internal/source"
	"github.com/slidecap/slidecap/internal/stability"
	"github.com/slidecap/slidecap/internal/types"
)

const (
	defaultFrameTimeout      = 5 * time.Second
	defaultMaxDecodeFailures = 3
	pausePollInterval        = 20 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	// Stability holds the tracker thresholds.
	Stability stability.Config
	// Region restricts detection to a sub-rectangle of the frame. Nil
	// means whole frame. Bounds are checked at start against the
	// source-reported frame size, or against the first frame when the
	// source cannot report its size.
	Region *types.Region
	// SampleInterval is the minimum spacing between frame pulls. Zero
	// pulls as fast as the source delivers.
	SampleInterval time.Duration
	// FrameTimeout bounds a single source pull.
	FrameTimeout time.Duration
	// MaxDecodeFailures is how many consecutive failed pulls end the
	// session with a SourceExhaustedError.
	MaxDecodeFailures int
}

// Session is one detection run over one source. Control methods are
// safe for concurrent use; they take effect at the next frame boundary.
type Session struct {
	opts    Options
	src     source.Source
	metric  *similarity.Metric
	tracker *stability.Tracker
	out     sink.Sink

	stopOnce sync.Once
	stopCh   chan struct{}
	live     bool

	mu              sync.Mutex
	state           types.DetectorState
	startedAt       time.Time
	framesPulled    uint64
	framesDropped   uint64
	framesSkipped   uint64
	slidesEmitted   uint64
	regionValidated bool
	lastResets      uint64
}

// NewSession validates the options and builds a session. No frame is
// pulled until Run.
func NewSession(src source.Source, metric *similarity.Metric, out sink.Sink, opts Options) (*Session, error) {
	if src == nil {
		return nil, &ConfigurationError{Field: "source", Reason: "required"}
	}
	if out == nil {
		return nil, &ConfigurationError{Field: "sink", Reason: "required"}
	}
	if err := opts.Stability.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "stability", Reason: err.Error()}
	}
	if r := opts.Region; r != nil {
		// Bounds are checked at Run start once the source reports its
		// frame size, but a structurally broken region never becomes
		// valid.
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
			return nil, &ConfigurationError{Field: "region", Reason: "coordinates must be non-negative and dimensions positive"}
		}
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = defaultFrameTimeout
	}
	if opts.MaxDecodeFailures <= 0 {
		opts.MaxDecodeFailures = defaultMaxDecodeFailures
	}
	if metric == nil {
		metric = similarity.New(similarity.ModeSSIM)
	}

	s := &Session{
		opts:   opts,
		src:    src,
		metric: metric,
		out:    out,
		stopCh: make(chan struct{}),
		state:  types.StateIdle,
	}
	if ls, ok := src.(source.Live); ok && ls.Live() {
		s.live = true
	}
	s.tracker = stability.New(opts.Stability, s.scoreFrames)
	return s, nil
}

func (s *Session) scoreFrames(a, b *types.Frame) (float64, similarity.Mode) {
	score, mode := s.metric.Compare(a, b)
	metrics.SimilarityScore.Observe(score)
	return score, mode
}

// Run drives the session until the source ends, Stop is called, or the
// context is canceled. It returns nil on a clean end of stream.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != types.StateIdle {
		s.mu.Unlock()
		return &ConfigurationError{Field: "session", Reason: "already started"}
	}
	s.state = types.StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()
	metrics.SessionState.Set(float64(types.StateRunning))

	if err := s.src.Start(ctx); err != nil {
		s.setState(types.StateStopped)
		return err
	}
	defer s.src.Stop()
	defer s.setState(types.StateStopped)

	// Region bounds are checked against the source's reported frame
	// size before the first pull. A source that cannot report its size
	// until frames arrive is checked on the first frame instead.
	if w, h := s.src.Dimensions(); w > 0 && h > 0 {
		if err := region.Validate(s.opts.Region, w, h); err != nil {
			return err
		}
		s.mu.Lock()
		s.regionValidated = true
		s.mu.Unlock()
	}

	slog.Info("detection session started",
		"source", s.src.Stats().SourceID,
		"threshold", s.opts.Stability.SimilarityThreshold,
		"stability_count", s.opts.Stability.StabilityCount,
	)

	var ticker *time.Ticker
	if s.opts.SampleInterval > 0 {
		ticker = time.NewTicker(s.opts.SampleInterval)
		defer ticker.Stop()
	}

	failures := 0
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			s.finalize(context.Background())
			return ctx.Err()
		case <-s.stopCh:
			s.finalize(ctx)
			return nil
		default:
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				s.finalize(context.Background())
				return ctx.Err()
			case <-s.stopCh:
				s.finalize(ctx)
				return nil
			case <-ticker.C:
			}
		}

		// A paused pull-based source is simply not advanced, so no
		// content is skipped. Live sources keep draining below.
		if !s.live && s.State() == types.StatePaused {
			select {
			case <-ctx.Done():
				s.finalize(context.Background())
				return ctx.Err()
			case <-s.stopCh:
				s.finalize(ctx)
				return nil
			case <-time.After(pausePollInterval):
			}
			continue
		}

		frame, err := s.src.Next(ctx, s.opts.FrameTimeout)
		if err != nil {
			switch {
			case errors.Is(err, source.ErrEndOfStream):
				slog.Info("source ended", "frames", s.Stats().FramesPulled)
				s.finalize(ctx)
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				s.finalize(context.Background())
				return ctx.Err()
			case errors.Is(err, source.ErrTimeout):
				slog.Debug("frame pull timed out, retrying")
				continue
			default:
				failures++
				lastErr = err
				metrics.DecodeFailures.Inc()
				s.addSkipped()
				slog.Warn("frame pull failed", "error", err, "consecutive", failures)
				if failures >= s.opts.MaxDecodeFailures {
					// The flush policy applies to stream-ending errors
					// the same as to a clean end of stream.
					s.finalize(ctx)
					return &SourceExhaustedError{Failures: failures, Last: lastErr}
				}
				continue
			}
		}
		failures = 0

		if err := s.observe(ctx, frame); err != nil {
			return err
		}
	}
}

// observe feeds one frame through region crop and tracker, delivering
// any emitted slide. Paused sessions drop the frame without touching
// the tracker so the accumulation window survives the pause.
func (s *Session) observe(ctx context.Context, frame types.Frame) error {
	s.mu.Lock()
	s.framesPulled++
	paused := s.state == types.StatePaused
	if paused {
		s.framesDropped++
	}
	validated := s.regionValidated
	s.mu.Unlock()

	metrics.FramesPulled.Inc()
	if paused {
		metrics.FramesDropped.WithLabelValues("paused").Inc()
		return nil
	}

	if !validated {
		if err := region.Validate(s.opts.Region, frame.Width, frame.Height); err != nil {
			return err
		}
		s.mu.Lock()
		s.regionValidated = true
		s.mu.Unlock()
	}

	cropped := region.Crop(frame, s.opts.Region)
	slide := s.tracker.Observe(cropped)

	if resets := s.tracker.CandidateResets(); resets > s.lastResets {
		metrics.CandidateResets.Add(float64(resets - s.lastResets))
		s.mu.Lock()
		s.lastResets = resets
		s.mu.Unlock()
	}

	if slide != nil {
		s.deliver(ctx, slide)
	}
	return nil
}

func (s *Session) deliver(ctx context.Context, slide *types.AcceptedSlide) {
	s.mu.Lock()
	s.slidesEmitted++
	s.mu.Unlock()
	metrics.SlidesEmitted.Inc()

	slog.Info("slide accepted",
		"index", slide.Index,
		"similarity", slide.Similarity,
		"timestamp", slide.Timestamp,
	)

	// A sink failure loses one delivery, not the session.
	if err := s.out.Write(ctx, slide); err != nil {
		metrics.SinkErrors.WithLabelValues("write").Inc()
		slog.Error("slide delivery failed", "index", slide.Index, "error", err)
	}
}

// finalize flushes a pending candidate according to the flush policy.
func (s *Session) finalize(ctx context.Context) {
	if slide := s.tracker.Flush(); slide != nil {
		slog.Info("flushing pending candidate", "index", slide.Index)
		s.deliver(ctx, slide)
	}
}

// Pause suspends detection. Frames are still pulled and discarded so a
// live source does not back up. No-op unless running.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StateRunning {
		s.state = types.StatePaused
		metrics.SessionState.Set(float64(types.StatePaused))
		slog.Info("session paused")
	}
}

// Resume continues detection. No-op unless paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StatePaused {
		s.state = types.StateRunning
		metrics.SessionState.Set(float64(types.StateRunning))
		slog.Info("session resumed")
	}
}

// Stop ends the session at the next frame boundary. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// State returns the current session state.
func (s *Session) State() types.DetectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st types.DetectorState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SessionState.Set(float64(st))
}

func (s *Session) addSkipped() {
	s.mu.Lock()
	s.framesSkipped++
	s.mu.Unlock()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionStats{
		FramesPulled:    s.framesPulled,
		FramesDropped:   s.framesDropped,
		FramesSkipped:   s.framesSkipped,
		SlidesEmitted:   s.slidesEmitted,
		CandidateResets: s.lastResets,
		StartedAt:       s.startedAt,
		State:           s.state.String(),
	}
}
