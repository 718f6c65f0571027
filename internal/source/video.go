package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/slidecap/slidecap/internal/types"
)

// VideoFileSource decodes frames from a video container (mp4, avi, mkv)
// or any capture URL OpenCV understands.
type VideoFileSource struct {
	path string

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	width  int
	height int
	seq    uint64
	stats  types.SourceStats
}

// NewVideoFileSource creates a source for the given path or URL.
func NewVideoFileSource(path string) *VideoFileSource {
	return &VideoFileSource{
		path:  path,
		stats: types.SourceStats{SourceID: path},
	}
}

// Start implements Source.
func (v *VideoFileSource) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cap, err := gocv.VideoCaptureFile(v.path)
	if err != nil {
		return fmt.Errorf("failed to open video source %s: %w", v.path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("video source %s did not open", v.path)
	}

	v.cap = cap
	v.mat = gocv.NewMat()
	v.width = int(cap.Get(gocv.VideoCaptureFrameWidth))
	v.height = int(cap.Get(gocv.VideoCaptureFrameHeight))
	v.stats.IsConnected = true
	return nil
}

// Dimensions implements Source. Known from the container header once
// the capture is open.
func (v *VideoFileSource) Dimensions() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height
}

// Next implements Source. File decoding is synchronous; the timeout
// only bounds context cancellation checks.
func (v *VideoFileSource) Next(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cap == nil {
		return types.Frame{}, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	if ok := v.cap.Read(&v.mat); !ok {
		return types.Frame{}, ErrEndOfStream
	}
	if v.mat.Empty() {
		v.stats.Errors++
		return types.Frame{}, fmt.Errorf("%w: empty frame from %s", ErrDecode, v.path)
	}

	// gocv decodes to BGR24 (CV_8UC3), matching the Frame contract.
	data, err := v.mat.DataPtrUint8()
	if err != nil {
		v.stats.Errors++
		return types.Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	frame := types.Frame{
		Seq:       v.seq,
		Timestamp: time.Now(),
		Width:     v.mat.Cols(),
		Height:    v.mat.Rows(),
		Data:      buf,
		SourceID:  v.path,
		TraceID:   uuid.New().String(),
	}
	v.seq++
	v.stats.FramesRead++
	v.stats.BytesRead += uint64(len(buf))
	return frame, nil
}

// Stats implements Source.
func (v *VideoFileSource) Stats() types.SourceStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Stop implements Source.
func (v *VideoFileSource) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cap == nil {
		return nil
	}
	err := v.cap.Close()
	v.mat.Close()
	v.cap = nil
	v.stats.IsConnected = false
	return err
}
