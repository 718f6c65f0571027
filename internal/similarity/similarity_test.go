package similarity_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/slidecap/slidecap/internal/similarity"
	"github.com/slidecap/slidecap/internal/types"
)

// makeFrame builds a BGR24 frame filled by the given pixel function.
func makeFrame(width, height int, pix func(x, y int) byte) *types.Frame {
	data := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := pix(x, y)
			o := (y*width + x) * 3
			data[o] = v
			data[o+1] = v
			data[o+2] = v
		}
	}
	return &types.Frame{
		Width:     width,
		Height:    height,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestIdenticalFramesScoreOne(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	rng := rand.New(rand.NewSource(42))
	f := makeFrame(64, 48, func(x, y int) byte { return byte(rng.Intn(256)) })

	score, mode := m.Compare(f, f)
	if mode != similarity.ModeSSIM {
		t.Fatalf("mode = %v, want ssim", mode)
	}
	if score < 0.999 {
		t.Errorf("identical frames scored %f, want ~1.0", score)
	}
}

func TestDisjointFramesScoreLow(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	black := makeFrame(64, 48, func(x, y int) byte { return 0 })
	white := makeFrame(64, 48, func(x, y int) byte { return 255 })

	score, _ := m.Compare(black, white)
	if score > 0.05 {
		t.Errorf("black vs white scored %f, want near 0", score)
	}
}

func TestScoreIsSymmetric(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	rng := rand.New(rand.NewSource(7))
	a := makeFrame(40, 40, func(x, y int) byte { return byte(rng.Intn(256)) })
	b := makeFrame(40, 40, func(x, y int) byte { return byte(rng.Intn(256)) })

	ab, _ := m.Compare(a, b)
	ba, _ := m.Compare(b, a)
	if diff := ab - ba; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score not symmetric: a,b=%f b,a=%f", ab, ba)
	}
}

func TestMismatchedDimensionsAreResized(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	// Same flat content at two resolutions should still score high
	// after the bilinear resize.
	a := makeFrame(64, 48, func(x, y int) byte { return 128 })
	b := makeFrame(80, 60, func(x, y int) byte { return 128 })

	score, mode := m.Compare(a, b)
	if mode != similarity.ModeSSIM {
		t.Fatalf("mode = %v, want ssim", mode)
	}
	if score < 0.95 {
		t.Errorf("resized flat frames scored %f, want >= 0.95", score)
	}
}

func TestSmallFramesDegradeToAbsDiff(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	a := makeFrame(4, 4, func(x, y int) byte { return 10 })
	b := makeFrame(4, 4, func(x, y int) byte { return 10 })

	score, mode := m.Compare(a, b)
	if mode != similarity.ModeAbsDiff {
		t.Fatalf("mode = %v, want absdiff for sub-window frame", mode)
	}
	if score < 0.999 {
		t.Errorf("identical small frames scored %f, want ~1.0", score)
	}
	if !m.Degraded() {
		t.Error("Degraded() = false after absdiff fallback")
	}
}

func TestDegradedFlagStaysFalseForLargeFrames(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	a := makeFrame(64, 48, func(x, y int) byte { return 50 })
	b := makeFrame(64, 48, func(x, y int) byte { return 60 })
	m.Compare(a, b)

	if m.Degraded() {
		t.Error("Degraded() = true without fallback")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		want    similarity.Mode
		wantErr bool
	}{
		{"", similarity.ModeSSIM, false},
		{"ssim", similarity.ModeSSIM, false},
		{"absdiff", similarity.ModeAbsDiff, false},
		{"histogram", similarity.ModeSSIM, true},
	}

	for _, tt := range tests {
		got, err := similarity.ParseMode(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestScoreWithinUnitInterval(t *testing.T) {
	m := similarity.New(similarity.ModeSSIM)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 20; i++ {
		a := makeFrame(32, 32, func(x, y int) byte { return byte(rng.Intn(256)) })
		b := makeFrame(32, 32, func(x, y int) byte { return byte(rng.Intn(256)) })
		score, _ := m.Compare(a, b)
		if score < 0 || score > 1 {
			t.Fatalf("score %f outside [0,1]", score)
		}
	}
}
