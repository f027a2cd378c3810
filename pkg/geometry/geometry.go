// Package geometry evaluates where a face sits in the frame and how large it is.
package geometry

import (
	"math"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

// Size is the size verdict for a face.
type Size string

const (
	SizeProper   Size = "proper"
	SizeTooClose Size = "too_close"
	SizeTooFar   Size = "too_far"
)

// Thresholds holds the centering and size limits.
type Thresholds struct {
	// CenterTolerance is the maximum offset from the frame center, as a
	// fraction of frame width (x) and height (y).
	CenterTolerance float64
	// MinSizeRatio and MaxSizeRatio bound face height / frame height.
	MinSizeRatio float64
	MaxSizeRatio float64
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CenterTolerance: 0.20,
		MinSizeRatio:    0.25,
		MaxSizeRatio:    0.55,
	}
}

// Verdict is the result of evaluating one bounding box.
type Verdict struct {
	Centered  bool
	Size      Size
	OffsetX   float64 // signed, fraction of frame width
	OffsetY   float64 // signed, fraction of frame height
	SizeRatio float64
}

// ProperSize reports whether the face is neither too close nor too far.
func (v Verdict) ProperSize() bool {
	return v.Size == SizeProper
}

// Evaluate computes the verdict for box in a frame of the given size.
// A frame with a non-positive dimension yields an off-center, too-far verdict.
func Evaluate(box observation.Box, frameWidth, frameHeight int, t Thresholds) Verdict {
	if frameWidth <= 0 || frameHeight <= 0 {
		return Verdict{Size: SizeTooFar}
	}

	w, h := float64(frameWidth), float64(frameHeight)
	center := box.Center()

	v := Verdict{
		OffsetX:   (center.X - w/2) / w,
		OffsetY:   (center.Y - h/2) / h,
		SizeRatio: box.Height / h,
	}
	v.Centered = math.Abs(v.OffsetX) < t.CenterTolerance && math.Abs(v.OffsetY) < t.CenterTolerance

	switch {
	case v.SizeRatio > t.MaxSizeRatio:
		v.Size = SizeTooClose
	case v.SizeRatio < t.MinSizeRatio:
		v.Size = SizeTooFar
	default:
		v.Size = SizeProper
	}

	return v
}
