// Package stability decides when a changed frame has settled into a new
// slide.
//
// A single "is this frame different enough" threshold mistakes
// mid-transition frames (half-scrolled slides, cursor blinks) for final
// states. The tracker instead promotes a differing frame to a candidate
// and only accepts it once a run of consecutive frames stays close to
// the candidate for long enough.
package stability

import (
	"fmt"
	"time"

	"github.com/slidecap/slidecap/internal/similarity"
	"github.com/slidecap/slidecap/internal/types"
)

// State is the tracker state.
type State int

const (
	// AwaitingCandidate means no candidate slide is under evaluation.
	AwaitingCandidate State = iota
	// Accumulating means a candidate exists and its stability window is filling.
	Accumulating
	// Stable is the transient state in which a candidate is emitted.
	Stable
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Stable:
		return "stable"
	default:
		return "awaiting_candidate"
	}
}

// Config holds the tracker options.
type Config struct {
	// SimilarityThreshold is the boundary score against the last accepted
	// slide: a frame scoring below it becomes a candidate, a frame scoring
	// at or above it is the same slide. Lower means more slides detected.
	SimilarityThreshold float64
	// StabilityCount is how many consecutive frames must stay close to
	// the candidate before it is accepted.
	StabilityCount int
	// MinStableDuration is the minimum wall-clock span the stability
	// window must cover.
	MinStableDuration time.Duration
	// CandidateDrift is the score below which the candidate itself is
	// considered still changing and is replaced.
	CandidateDrift float64
	// FlushOnStop emits a pending candidate with at least one window
	// sample when the stream ends.
	FlushOnStop bool
}

// Validate checks option ranges.
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1], got %v", c.SimilarityThreshold)
	}
	if c.StabilityCount <= 0 {
		return fmt.Errorf("stability_count must be > 0, got %d", c.StabilityCount)
	}
	if c.MinStableDuration < 0 {
		return fmt.Errorf("min_stable_duration must be >= 0, got %v", c.MinStableDuration)
	}
	if c.CandidateDrift <= 0 || c.CandidateDrift > 1 {
		return fmt.Errorf("candidate_drift must be in (0,1], got %v", c.CandidateDrift)
	}
	return nil
}

// ScoreFunc compares two frames. Supplied by the detector so the tracker
// stays independent of the metric implementation.
type ScoreFunc func(a, b *types.Frame) (float64, similarity.Mode)

// Tracker is the slide stability state machine. Not safe for concurrent
// use; the detection session owns it exclusively.
type Tracker struct {
	cfg   Config
	score ScoreFunc

	state        State
	lastAccepted *types.Frame
	candidate    *types.Frame
	// candidateScore is the candidate's similarity to the last accepted
	// slide, recorded when the candidate was promoted
	candidateScore float64
	candidateSince time.Time
	window         []float64

	nextIndex int
	resets    uint64
}

// New creates a tracker. The config must have been validated.
func New(cfg Config, score ScoreFunc) *Tracker {
	return &Tracker{cfg: cfg, score: score}
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// CandidateResets returns how many times a drifting candidate was replaced.
func (t *Tracker) CandidateResets() uint64 {
	return t.resets
}

// Observe feeds one frame through the state machine. It returns a
// non-nil slide when the current candidate has just become stable.
func (t *Tracker) Observe(frame types.Frame) *types.AcceptedSlide {
	switch t.state {
	case AwaitingCandidate:
		t.observeAwaiting(frame)
		return nil
	case Accumulating:
		return t.observeAccumulating(frame)
	default:
		return nil
	}
}

func (t *Tracker) observeAwaiting(frame types.Frame) {
	if t.lastAccepted == nil {
		// No baseline yet: the very first frame opens a candidate and
		// must stabilize like any other.
		t.promote(frame, 0)
		return
	}
	score, _ := t.score(t.lastAccepted, &frame)
	// Exclusive boundary: a score exactly at the threshold is still the
	// same slide.
	if score < t.cfg.SimilarityThreshold {
		t.promote(frame, score)
	}
}

func (t *Tracker) observeAccumulating(frame types.Frame) *types.AcceptedSlide {
	score, _ := t.score(t.candidate, &frame)
	if score < t.cfg.CandidateDrift {
		// Slide is still changing; this frame is the new candidate.
		t.resets++
		prevScore := t.candidateScore
		if t.lastAccepted != nil {
			prevScore, _ = t.score(t.lastAccepted, &frame)
		}
		t.promote(frame, prevScore)
		return nil
	}

	t.window = append(t.window, score)
	if len(t.window) < t.cfg.StabilityCount {
		return nil
	}
	if frame.Timestamp.Sub(t.candidateSince) < t.cfg.MinStableDuration {
		return nil
	}
	return t.accept()
}

// Flush finalizes the session. A candidate still accumulating with at
// least one window sample is emitted when FlushOnStop is set.
func (t *Tracker) Flush() *types.AcceptedSlide {
	if t.state != Accumulating || !t.cfg.FlushOnStop || len(t.window) == 0 {
		return nil
	}
	return t.accept()
}

func (t *Tracker) promote(frame types.Frame, scoreVsAccepted float64) {
	t.candidate = &frame
	t.candidateScore = scoreVsAccepted
	t.candidateSince = frame.Timestamp
	// Candidate history notionally starts at self-similarity 1.0; the
	// window counts the subsequent confirming frames.
	t.window = t.window[:0]
	t.state = Accumulating
}

// accept emits the candidate and atomically moves the comparison
// baseline to it.
func (t *Tracker) accept() *types.AcceptedSlide {
	slide := &types.AcceptedSlide{
		Index:      t.nextIndex,
		Frame:      *t.candidate,
		Timestamp:  t.candidateSince,
		Similarity: t.candidateScore,
		TraceID:    t.candidate.TraceID,
	}
	t.nextIndex++

	t.lastAccepted = t.candidate
	t.candidate = nil
	t.window = t.window[:0]
	t.state = AwaitingCandidate
	return slide
}
