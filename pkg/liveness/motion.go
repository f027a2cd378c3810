// Package liveness scores how likely the observed face belongs to a live
// person. It tracks landmark micro-movement and head pose to flag static
// spoofs, and folds several per-tick indicators into a smoothed score.
// Everything here is a pure function of an observation and a state value.
package liveness

import (
	"math"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

// MotionConfig holds the static/spoof heuristic thresholds.
type MotionConfig struct {
	// MicroMovementThreshold is the mean per-landmark L1 displacement below
	// which a tick counts as static.
	MicroMovementThreshold float64
	// StaticFrameLimit is the static tick count above which spoofing is suspected.
	StaticFrameLimit int
	// PoseVarianceThreshold is the summed head-pose variance below which
	// the head is considered frozen.
	PoseVarianceThreshold float64
	PoseHistorySize       int
	MinPoseSamples        int
}

// DefaultMotionConfig returns the standard heuristic thresholds.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		MicroMovementThreshold: 0.3,
		StaticFrameLimit:       15,
		PoseVarianceThreshold:  0.5,
		PoseHistorySize:        15,
		MinPoseSamples:         10,
	}
}

// MotionState is the heuristic state carried between ticks.
type MotionState struct {
	StaticFrames   int
	PoseHistory    Window[observation.Point]
	LastLandmarks  []observation.Point
	SpoofSuspected bool
}

// NewMotionState returns an empty state sized for cfg.
func NewMotionState(cfg MotionConfig) MotionState {
	return MotionState{PoseHistory: NewWindow[observation.Point](cfg.PoseHistorySize)}
}

// MotionResult is the outcome of one EvaluateMotion call.
type MotionResult struct {
	State         MotionState
	MicroMovement float64
	PoseVariance  float64
	HasVariance   bool
}

// EvaluateMotion updates the static counter, pose history and spoof flag
// for one observation.
func EvaluateMotion(obs *observation.Observation, prev MotionState, gestureComplete bool, cfg MotionConfig) MotionResult {
	next := prev
	res := MotionResult{}

	res.MicroMovement = MicroMovement(obs.Landmarks, prev.LastLandmarks)
	if len(obs.Landmarks) > 0 {
		next.LastLandmarks = append([]observation.Point(nil), obs.Landmarks...)
	}

	if res.MicroMovement > 0 && res.MicroMovement < cfg.MicroMovementThreshold {
		// capped at twice the limit
		if next.StaticFrames < 2*cfg.StaticFrameLimit {
			next.StaticFrames++
		}
	} else if next.StaticFrames > 0 {
		next.StaticFrames--
	}

	if pose, ok := obs.HeadPose(); ok {
		next.PoseHistory = prev.PoseHistory.Push(pose)
	}
	if next.PoseHistory.Len() >= cfg.MinPoseSamples {
		res.PoseVariance = PoseVariance(next.PoseHistory.Items())
		res.HasVariance = true
	}

	switch {
	case gestureComplete || res.MicroMovement > cfg.MicroMovementThreshold:
		next.SpoofSuspected = false
	case next.StaticFrames > cfg.StaticFrameLimit && res.HasVariance && res.PoseVariance < cfg.PoseVarianceThreshold:
		next.SpoofSuspected = true
	}

	res.State = next
	return res
}

// MicroMovement returns the mean per-landmark L1 displacement between two
// landmark sets, or 0 when either is empty.
func MicroMovement(current, last []observation.Point) float64 {
	n := len(current)
	if len(last) < n {
		n = len(last)
	}
	if n == 0 {
		return 0
	}

	var total float64
	for i := 0; i < n; i++ {
		total += math.Abs(current[i].X-last[i].X) + math.Abs(current[i].Y-last[i].Y)
	}
	return total / float64(n)
}

// PoseVariance returns the population variance of x plus that of y.
func PoseVariance(poses []observation.Point) float64 {
	xs := make([]float64, len(poses))
	ys := make([]float64, len(poses))
	for i, p := range poses {
		xs[i], ys[i] = p.X, p.Y
	}
	return variance(xs) + variance(ys)
}
