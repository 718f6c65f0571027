package region_test

import (
	"errors"
	"testing"

	"github.com/slidecap/slidecap/internal/region"
	"github.com/slidecap/slidecap/internal/types"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		region  *types.Region
		w, h    int
		wantErr bool
	}{
		{"nil region is whole frame", nil, 100, 100, false},
		{"interior region", &types.Region{X: 10, Y: 10, Width: 50, Height: 50}, 100, 100, false},
		{"exact fit", &types.Region{X: 0, Y: 0, Width: 100, Height: 100}, 100, 100, false},
		{"region larger than frame", &types.Region{X: 10, Y: 10, Width: 100, Height: 100}, 50, 50, true},
		{"right edge overflow", &types.Region{X: 60, Y: 0, Width: 50, Height: 50}, 100, 100, true},
		{"negative origin", &types.Region{X: -1, Y: 0, Width: 10, Height: 10}, 100, 100, true},
		{"zero width", &types.Region{X: 0, Y: 0, Width: 0, Height: 10}, 100, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := region.Validate(tt.region, tt.w, tt.h)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ire *region.InvalidRegionError
				if !errors.As(err, &ire) {
					t.Errorf("error type = %T, want *InvalidRegionError", err)
				}
			}
		})
	}
}

func TestCropExtractsSubFrame(t *testing.T) {
	// 4x4 frame where each pixel's blue channel encodes its position
	f := types.Frame{Width: 4, Height: 4, Data: make([]byte, 4*4*3)}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			f.Data[(y*4+x)*3] = byte(y*4 + x)
		}
	}

	r := &types.Region{X: 1, Y: 1, Width: 2, Height: 2}
	got := region.Crop(f, r)

	if got.Width != 2 || got.Height != 2 {
		t.Fatalf("cropped size = %dx%d, want 2x2", got.Width, got.Height)
	}
	want := []byte{5, 6, 9, 10} // positions (1,1) (2,1) (1,2) (2,2)
	for i, w := range want {
		if got.Data[i*3] != w {
			t.Errorf("pixel %d = %d, want %d", i, got.Data[i*3], w)
		}
	}
}

func TestCropNilRegionPassesThrough(t *testing.T) {
	f := types.Frame{Width: 3, Height: 3, Data: make([]byte, 27)}
	got := region.Crop(f, nil)
	if got.Width != 3 || got.Height != 3 || &got.Data[0] != &f.Data[0] {
		t.Error("nil region should return the frame unchanged")
	}
}

func TestCropDoesNotAliasSource(t *testing.T) {
	f := types.Frame{Width: 4, Height: 4, Data: make([]byte, 48)}
	r := &types.Region{X: 0, Y: 0, Width: 2, Height: 2}

	got := region.Crop(f, r)
	f.Data[0] = 99
	if got.Data[0] == 99 {
		t.Error("crop aliases the source buffer")
	}
}
