package types

import "time"

// Frame represents a single video frame pulled from a source.
//
// Data is BGR24 (3 bytes per pixel, row-major) regardless of where the
// frame came from; sources are responsible for decoding their medium into
// this layout. Data must be treated as immutable once the frame has been
// handed to the detector.
type Frame struct {
	// Seq is the source-local monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (BGR24)
	Data []byte
	// SourceID identifies the originating source (file path, rtsp url, "mock")
	SourceID string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// Empty reports whether the frame carries no pixel data.
func (f *Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// Region is a rectangular region of interest in source-frame coordinates.
// A nil *Region means "whole frame".
type Region struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Area returns the pixel area of the region.
func (r *Region) Area() int {
	return r.Width * r.Height
}

// Within reports whether the region lies fully inside a frame of the
// given dimensions.
func (r *Region) Within(frameWidth, frameHeight int) bool {
	return r.X >= 0 && r.Y >= 0 &&
		r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= frameWidth &&
		r.Y+r.Height <= frameHeight
}

// AcceptedSlide is a candidate frame that satisfied the stability
// requirement and was emitted. Immutable once emitted; ownership passes
// to the slide sinks.
type AcceptedSlide struct {
	// Index is the 0-based slide number, strictly increasing and gap-free
	// within one session
	Index int
	// Frame is the slide image (cropped to the session region)
	Frame Frame
	// Timestamp is when the candidate was first observed
	Timestamp time.Time
	// Similarity is the score of this slide against the previously
	// accepted slide (0 for the first slide of a session)
	Similarity float64
	// TraceID carries the trace ID of the originating frame
	TraceID string
}

// DetectorState is the lifecycle state of one detection session.
type DetectorState int32

const (
	StateIdle DetectorState = iota
	StateRunning
	StatePaused
	StateStopped
)

// String returns the lowercase state name.
func (s DetectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SourceStats contains frame source statistics.
type SourceStats struct {
	FramesRead  uint64
	BytesRead   uint64
	Errors      uint64
	Reconnects  uint32
	IsConnected bool
	SourceID    string
}

// SessionStats contains detection session statistics.
type SessionStats struct {
	FramesPulled    uint64
	FramesDropped   uint64 // dropped while paused
	FramesSkipped   uint64 // transient decode failures
	SlidesEmitted   uint64
	CandidateResets uint64
	StartedAt       time.Time
	State           string
}
