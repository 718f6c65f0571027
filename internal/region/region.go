// Package region crops frames to a configured region of interest.
//
// Validation happens once at session configuration time; the crop on the
// hot path assumes a valid region and only allocates the destination
// buffer.
package region

import (
	"fmt"

	"github.com/slidecap/slidecap/internal/types"
)

// InvalidRegionError reports a region that lies partially or fully
// outside the frame bounds.
type InvalidRegionError struct {
	Region      types.Region
	FrameWidth  int
	FrameHeight int
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("region (x=%d y=%d w=%d h=%d) outside %dx%d frame bounds",
		e.Region.X, e.Region.Y, e.Region.Width, e.Region.Height,
		e.FrameWidth, e.FrameHeight)
}

// Validate checks that the region lies fully inside a frame of the given
// dimensions. A nil region (whole frame) is always valid.
func Validate(r *types.Region, frameWidth, frameHeight int) error {
	if r == nil {
		return nil
	}
	if !r.Within(frameWidth, frameHeight) {
		return &InvalidRegionError{
			Region:      *r,
			FrameWidth:  frameWidth,
			FrameHeight: frameHeight,
		}
	}
	return nil
}

// Crop returns the sub-frame covered by the region. A nil region returns
// the frame unchanged. The region must have been validated against the
// frame dimensions beforehand.
func Crop(f types.Frame, r *types.Region) types.Frame {
	if r == nil {
		return f
	}

	data := make([]byte, r.Width*r.Height*3)
	srcStride := f.Width * 3
	dstStride := r.Width * 3
	for row := 0; row < r.Height; row++ {
		srcOff := (r.Y+row)*srcStride + r.X*3
		copy(data[row*dstStride:(row+1)*dstStride], f.Data[srcOff:srcOff+dstStride])
	}

	out := f
	out.Width = r.Width
	out.Height = r.Height
	out.Data = data
	return out
}
