package liveness

import (
	"math"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

// MaxIndicators is the highest indicator count a tick can reach.
const MaxIndicators = 6

// ScoreConfig holds the scorer thresholds.
type ScoreConfig struct {
	MinDetectionConfidence  float64
	MovementThreshold       float64 // pixels of face-center travel per tick
	CenterWindowSize        int
	CenterVarianceThreshold float64
	Smoothing               float64 // weight of the new frame score
	NoFaceDecay             float64
}

// DefaultScoreConfig returns the standard scorer thresholds.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		MinDetectionConfidence:  0.5,
		MovementThreshold:       2.0,
		CenterWindowSize:        10,
		CenterVarianceThreshold: 5,
		Smoothing:               0.3,
		NoFaceDecay:             5,
	}
}

// ScoreState is the scorer state carried between ticks.
type ScoreState struct {
	Score      float64
	LastCenter observation.Point
	HasCenter  bool
	CenterX    Window[float64]
}

// NewScoreState returns a zero score sized for cfg.
func NewScoreState(cfg ScoreConfig) ScoreState {
	return ScoreState{CenterX: NewWindow[float64](cfg.CenterWindowSize)}
}

// Signals carries the gesture and spoof inputs for one tick.
type Signals struct {
	GestureComplete bool
	GestureChanged  bool
	SpoofSuspected  bool
}

// Indicators records which indicators fired on a tick.
type Indicators struct {
	Confident       bool
	Moved           bool
	Swaying         bool
	GestureComplete bool
	GestureChanged  bool
	SpoofPenalty    bool
	Count           int
}

// ScoreResult is the outcome of one Score call.
type ScoreResult struct {
	State      ScoreState
	Indicators Indicators
	FrameScore float64
}

// Score folds one observation into the smoothed liveness score.
func Score(obs *observation.Observation, prev ScoreState, sig Signals, cfg ScoreConfig) ScoreResult {
	next := prev
	ind := Indicators{}

	center := obs.Box.Center()

	ind.Confident = obs.DetectionConfidence > cfg.MinDetectionConfidence
	ind.Moved = prev.HasCenter && center.Dist(prev.LastCenter) > cfg.MovementThreshold

	next.CenterX = prev.CenterX.Push(center.X)
	if next.CenterX.Len() >= 2 {
		ind.Swaying = variance(next.CenterX.Items()) > cfg.CenterVarianceThreshold
	}
	next.LastCenter = center
	next.HasCenter = true

	ind.GestureComplete = sig.GestureComplete
	ind.GestureChanged = sig.GestureChanged

	for _, on := range []bool{ind.Confident, ind.Moved, ind.Swaying, ind.GestureChanged} {
		if on {
			ind.Count++
		}
	}
	if ind.GestureComplete {
		ind.Count += 2
	}
	if sig.SpoofSuspected && !sig.GestureComplete && ind.Count > 0 {
		ind.SpoofPenalty = true
		ind.Count--
	}

	frame := float64(ind.Count) / MaxIndicators * 100
	next.Score = clampScore(prev.Score*(1-cfg.Smoothing) + frame*cfg.Smoothing)

	return ScoreResult{State: next, Indicators: ind, FrameScore: frame}
}

// Decay applies the no-face penalty and forgets the last face position.
func Decay(prev ScoreState, cfg ScoreConfig) ScoreState {
	next := prev
	next.Score = clampScore(prev.Score - cfg.NoFaceDecay)
	next.HasCenter = false
	return next
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(100, s))
}
