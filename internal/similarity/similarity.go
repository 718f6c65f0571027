// Package similarity scores how alike two frames are on a [0,1] scale,
// 1.0 meaning identical under the chosen metric.
//
// The primary metric is a windowed structural similarity index (SSIM)
// over the grayscale projection of each frame, which tolerates minor
// brightness and compression noise. When a frame is too small for the
// SSIM window the metric degrades to a mean-absolute-difference score;
// the degradation is reported to the caller and logged once, never
// applied silently.
package similarity

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	"github.com/slidecap/slidecap/internal/types"
)

// Mode identifies which metric produced a score.
type Mode int

const (
	// ModeSSIM is the primary windowed structural similarity metric.
	ModeSSIM Mode = iota
	// ModeAbsDiff is the degraded mean-absolute-difference fallback.
	ModeAbsDiff
)

// String returns the metric name.
func (m Mode) String() string {
	if m == ModeAbsDiff {
		return "absdiff"
	}
	return "ssim"
}

// ParseMode resolves a configured metric name. Empty string selects SSIM.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "ssim":
		return ModeSSIM, nil
	case "absdiff":
		return ModeAbsDiff, nil
	default:
		return ModeSSIM, fmt.Errorf("unknown similarity metric %q (must be 'ssim' or 'absdiff')", name)
	}
}

const (
	windowSize = 8
	// SSIM stabilization constants for 8-bit dynamic range (K1=0.01, K2=0.03, L=255)
	c1 = (0.01 * 255) * (0.01 * 255)
	c2 = (0.03 * 255) * (0.03 * 255)
)

// Metric is a pure frame comparator. Safe for concurrent use.
type Metric struct {
	preferred Mode

	degradedOnce sync.Once
	degraded     bool
	mu           sync.RWMutex
}

// New creates a metric with the given preferred mode.
func New(preferred Mode) *Metric {
	return &Metric{preferred: preferred}
}

// Degraded reports whether any comparison so far fell back to the
// mean-absolute-difference metric.
func (m *Metric) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// Compare scores frame b against frame a and reports which metric was
// used. Frames of mismatched dimensions are handled by resizing b to
// a's dimensions with bilinear interpolation before scoring.
func (m *Metric) Compare(a, b *types.Frame) (float64, Mode) {
	ga := Grayscale(a)
	gb := Grayscale(b)

	if b.Width != a.Width || b.Height != a.Height {
		gb = resizeGray(gb, b.Width, b.Height, a.Width, a.Height)
	}

	mode := m.preferred
	if mode == ModeSSIM && (a.Width < windowSize || a.Height < windowSize) {
		mode = ModeAbsDiff
		m.noteDegraded(a.Width, a.Height)
	}

	switch mode {
	case ModeAbsDiff:
		return absDiffScore(ga, gb), ModeAbsDiff
	default:
		return ssimScore(ga, gb, a.Width, a.Height), ModeSSIM
	}
}

func (m *Metric) noteDegraded(w, h int) {
	m.degradedOnce.Do(func() {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		slog.Warn("similarity metric degraded to absdiff",
			"reason", "frame smaller than ssim window",
			"width", w,
			"height", h,
			"window", windowSize,
		)
	})
}

// Grayscale projects a BGR24 frame onto a luma plane (BT.601 weights,
// integer arithmetic).
func Grayscale(f *types.Frame) []byte {
	out := make([]byte, f.Width*f.Height)
	for i := 0; i < len(out); i++ {
		o := i * 3
		if o+2 >= len(f.Data) {
			break
		}
		bl := int(f.Data[o])
		g := int(f.Data[o+1])
		r := int(f.Data[o+2])
		// y = 0.299 R + 0.587 G + 0.114 B
		out[i] = byte((299*r + 587*g + 114*bl) / 1000)
	}
	return out
}

// resizeGray resizes a grayscale plane using bilinear interpolation.
// This is the fixed interpolation policy for cross-resolution scoring.
func resizeGray(src []byte, sw, sh, dw, dh int) []byte {
	sImg := &image.Gray{Pix: src, Stride: sw, Rect: image.Rect(0, 0, sw, sh)}
	dImg := image.NewGray(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dImg, dImg.Rect, sImg, sImg.Rect, draw.Src, nil)
	return dImg.Pix
}

// absDiffScore is 1 minus the normalized mean absolute pixel difference.
func absDiffScore(a, b []byte) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum uint64
	for i := 0; i < n; i++ {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return 1 - float64(sum)/(255*float64(n))
}

// ssimScore computes mean SSIM over non-overlapping windows. Edge
// windows are clipped to the frame bounds rather than discarded so the
// whole frame contributes to the score.
func ssimScore(a, b []byte, width, height int) float64 {
	var total float64
	var windows int

	for wy := 0; wy < height; wy += windowSize {
		for wx := 0; wx < width; wx += windowSize {
			wEnd := wx + windowSize
			if wEnd > width {
				wEnd = width
			}
			hEnd := wy + windowSize
			if hEnd > height {
				hEnd = height
			}

			total += windowSSIM(a, b, width, wx, wy, wEnd, hEnd)
			windows++
		}
	}

	if windows == 0 {
		return 0
	}
	score := total / float64(windows)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func windowSSIM(a, b []byte, stride, x0, y0, x1, y1 int) float64 {
	n := float64((x1 - x0) * (y1 - y0))

	var sumA, sumB float64
	for y := y0; y < y1; y++ {
		row := y * stride
		for x := x0; x < x1; x++ {
			sumA += float64(a[row+x])
			sumB += float64(b[row+x])
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := y0; y < y1; y++ {
		row := y * stride
		for x := x0; x < x1; x++ {
			da := float64(a[row+x]) - muA
			db := float64(b[row+x]) - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*muA*muB + c1) * (2*cov + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	return num / den
}
