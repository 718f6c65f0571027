package sink

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slidecap/slidecap/internal/types"
)

// DirSink writes each slide as slide_{index:03d}.png into a directory
// and maintains a manifest.yaml describing the run, so any downstream
// deck builder can assemble the capture without re-reading the images.
type DirSink struct {
	dir string

	mu      sync.Mutex
	entries []manifestEntry
	closed  bool
}

type manifestEntry struct {
	Index      int       `yaml:"index"`
	File       string    `yaml:"file"`
	Timestamp  time.Time `yaml:"timestamp"`
	Similarity float64   `yaml:"similarity"`
	Width      int       `yaml:"width"`
	Height     int       `yaml:"height"`
	TraceID    string    `yaml:"trace_id,omitempty"`
}

type manifest struct {
	GeneratedAt time.Time       `yaml:"generated_at"`
	SlideCount  int             `yaml:"slide_count"`
	Slides      []manifestEntry `yaml:"slides"`
}

// NewDirSink creates the output directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slide directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Write implements Sink.
func (d *DirSink) Write(ctx context.Context, slide *types.AcceptedSlide) error {
	img, err := bgrToRGBA(&slide.Frame)
	if err != nil {
		return fmt.Errorf("slide %d conversion failed: %w", slide.Index, err)
	}

	name := fmt.Sprintf("slide_%03d.png", slide.Index)
	path := filepath.Join(d.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("png encode of slide %d failed: %w", slide.Index, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	d.mu.Lock()
	d.entries = append(d.entries, manifestEntry{
		Index:      slide.Index,
		File:       name,
		Timestamp:  slide.Timestamp,
		Similarity: slide.Similarity,
		Width:      slide.Frame.Width,
		Height:     slide.Frame.Height,
		TraceID:    slide.TraceID,
	})
	d.mu.Unlock()

	slog.Info("slide saved",
		"index", slide.Index,
		"file", path,
		"similarity", slide.Similarity,
	)
	return nil
}

// Close writes the manifest. Idempotent.
func (d *DirSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	m := manifest{
		GeneratedAt: time.Now().UTC(),
		SlideCount:  len(d.entries),
		Slides:      d.entries,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(d.dir, "manifest.yaml"), data, 0o644)
}
