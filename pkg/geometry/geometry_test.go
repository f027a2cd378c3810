package geometry

import (
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name         string
		box          observation.Box
		wantCentered bool
		wantSize     Size
	}{
		{
			name:         "centered proper size",
			box:          observation.Box{X: 240, Y: 140, Width: 160, Height: 200},
			wantCentered: true,
			wantSize:     SizeProper,
		},
		{
			name:         "too close",
			box:          observation.Box{X: 170, Y: 96, Width: 300, Height: 288}, // ratio 0.60
			wantCentered: true,
			wantSize:     SizeTooClose,
		},
		{
			name:         "too far",
			box:          observation.Box{X: 280, Y: 200, Width: 80, Height: 80},
			wantCentered: true,
			wantSize:     SizeTooFar,
		},
		{
			name:         "off to the left",
			box:          observation.Box{X: 0, Y: 140, Width: 160, Height: 200},
			wantCentered: false,
			wantSize:     SizeProper,
		},
		{
			name:         "off toward the bottom",
			box:          observation.Box{X: 240, Y: 280, Width: 160, Height: 200},
			wantCentered: false,
			wantSize:     SizeProper,
		},
		{
			name:         "offset at tolerance is not centered",
			box:          observation.Box{X: 368, Y: 140, Width: 160, Height: 200}, // offset exactly 0.20
			wantCentered: false,
			wantSize:     SizeProper,
		},
		{
			name:         "ratio at upper bound is proper",
			box:          observation.Box{X: 240, Y: 108, Width: 160, Height: 264}, // ratio 0.55
			wantCentered: true,
			wantSize:     SizeProper,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.box, 640, 480, th)
			if v.Centered != tt.wantCentered {
				t.Errorf("Centered = %v, want %v (offsets %.3f, %.3f)", v.Centered, tt.wantCentered, v.OffsetX, v.OffsetY)
			}
			if v.Size != tt.wantSize {
				t.Errorf("Size = %s, want %s (ratio %.3f)", v.Size, tt.wantSize, v.SizeRatio)
			}
		})
	}
}

func TestEvaluate_InvalidFrame(t *testing.T) {
	box := observation.Box{X: 10, Y: 10, Width: 100, Height: 100}
	for _, dims := range [][2]int{{0, 480}, {640, 0}, {-1, -1}} {
		v := Evaluate(box, dims[0], dims[1], DefaultThresholds())
		if v.Centered || v.Size != SizeTooFar {
			t.Errorf("dims %v: expected off-center too-far verdict, got %+v", dims, v)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	box := observation.Box{X: 250, Y: 150, Width: 150, Height: 190}
	first := Evaluate(box, 640, 480, DefaultThresholds())
	second := Evaluate(box, 640, 480, DefaultThresholds())
	if first != second {
		t.Errorf("verdicts differ: %+v vs %+v", first, second)
	}
}
