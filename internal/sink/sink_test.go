package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slidecap/slidecap/internal/types"
)

func testSlide(index int, w, h int, b, g, r byte) *types.AcceptedSlide {
	data := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		data[i*3+0] = b
		data[i*3+1] = g
		data[i*3+2] = r
	}
	return &types.AcceptedSlide{
		Index:      index,
		Timestamp:  time.Date(2026, 3, 14, 10, 0, index, 0, time.UTC),
		Similarity: 0.97,
		Frame: types.Frame{
			Seq:    uint64(index),
			Width:  w,
			Height: h,
			Data:   data,
		},
	}
}

func TestDirSinkWritesSlidesAndManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirSink(dir)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, testSlide(i, 16, 12, byte(i*40), 0, 200)); err != nil {
			t.Fatalf("Write slide %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("slide_%03d.png", i))
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 12 {
			t.Errorf("slide %d: got bounds %v, want 16x12", i, img.Bounds())
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if m.SlideCount != 3 || len(m.Slides) != 3 {
		t.Fatalf("manifest count = %d (%d entries), want 3", m.SlideCount, len(m.Slides))
	}
	for i, e := range m.Slides {
		if e.Index != i {
			t.Errorf("manifest entry %d has index %d", i, e.Index)
		}
		if e.Similarity != 0.97 {
			t.Errorf("manifest entry %d similarity = %v", i, e.Similarity)
		}
	}
}

func TestDirSinkCloseIdempotent(t *testing.T) {
	s, err := NewDirSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type recordSink struct {
	written []int
	closed  bool
	failOn  int
}

func (r *recordSink) Write(_ context.Context, slide *types.AcceptedSlide) error {
	if r.failOn != 0 && slide.Index == r.failOn {
		return errors.New("sink failure")
	}
	r.written = append(r.written, slide.Index)
	return nil
}

func (r *recordSink) Close() error {
	r.closed = true
	return nil
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{failOn: 1}
	c := &recordSink{}
	m := NewMulti(a, b, c)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := m.Write(ctx, testSlide(i, 8, 8, 0, 0, 0))
		if i == 1 && err == nil {
			t.Error("expected error from failing sink on slide 1")
		}
		if i != 1 && err != nil {
			t.Errorf("slide %d: unexpected error %v", i, err)
		}
	}

	// The failing sink must not block delivery to the others.
	if len(a.written) != 3 || len(c.written) != 3 {
		t.Errorf("fan-out incomplete: a=%v c=%v", a.written, c.written)
	}
	if len(b.written) != 2 {
		t.Errorf("failing sink recorded %v, want slides 0 and 2", b.written)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed || !c.closed {
		t.Error("not all sinks closed")
	}
}

func TestBGRToRGBA(t *testing.T) {
	frame := &types.Frame{Width: 2, Height: 1, Data: []byte{
		255, 0, 0, // blue pixel
		0, 0, 255, // red pixel
	}}
	img, err := bgrToRGBA(frame)
	if err != nil {
		t.Fatalf("bgrToRGBA: %v", err)
	}
	if r, g, b, a := img.At(0, 0).RGBA(); r != 0 || g != 0 || b != 0xffff || a != 0xffff {
		t.Errorf("pixel 0 = (%d,%d,%d,%d), want pure blue", r, g, b, a)
	}
	if r, _, b, _ := img.At(1, 0).RGBA(); r != 0xffff || b != 0 {
		t.Errorf("pixel 1: want pure red, got r=%d b=%d", r, b)
	}
}

func TestEncodeThumbnailDownscales(t *testing.T) {
	frame := &types.Frame{Width: 1280, Height: 720, Data: make([]byte, 1280*720*3)}
	data, err := encodeThumbnail(frame)
	if err != nil {
		t.Fatalf("encodeThumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != thumbnailWidth || img.Bounds().Dy() != 180 {
		t.Errorf("thumbnail is %v, want %dx180", img.Bounds(), thumbnailWidth)
	}
}

func TestEncodeThumbnailKeepsSmallFrames(t *testing.T) {
	frame := &types.Frame{Width: 64, Height: 48, Data: make([]byte, 64*48*3)}
	data, err := encodeThumbnail(frame)
	if err != nil {
		t.Fatalf("encodeThumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("small frame was rescaled to %v", img.Bounds())
	}
}

func TestBGRToRGBARejectsShortData(t *testing.T) {
	frame := &types.Frame{Width: 4, Height: 4, Data: make([]byte, 5)}
	if _, err := bgrToRGBA(frame); err == nil {
		t.Fatal("expected size error")
	}
}
