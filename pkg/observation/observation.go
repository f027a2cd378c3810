// Package observation defines the per-tick face observation consumed by the
// decision engine and the sources that produce it. Landmarks, boxes and
// expression probabilities are computed upstream; this package only carries them.
package observation

import (
	"context"
	"errors"
	"math"
)

// Point represents a 2D point in source-frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Box is a face bounding box in source-frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Observation is one tick's worth of face data.
type Observation struct {
	DetectionConfidence float64            `json:"detection_confidence"`
	Box                 Box                `json:"box"`
	Landmarks           []Point            `json:"landmarks"`
	Expressions         map[string]float64 `json:"expressions,omitempty"`
	FrameWidth          int                `json:"frame_width"`
	FrameHeight         int                `json:"frame_height"`

	// Image is the encoded frame the observation was computed from.
	// It is only needed for the final capture.
	Image []byte `json:"image,omitempty"`
}

// Source yields one observation per call. A nil observation with a nil
// error means no face was found this tick.
type Source interface {
	Next(ctx context.Context) (*Observation, error)
}

// ErrExhausted is returned by finite sources once every observation was consumed.
var ErrExhausted = errors.New("observation source exhausted")

// ErrNoFrame is returned when no new frame has arrived since the last read.
// It is not a no-face tick; consumers skip the tick instead.
var ErrNoFrame = errors.New("no new frame")
