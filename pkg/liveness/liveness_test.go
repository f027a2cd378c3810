package liveness

import (
	"math"
	"math/rand"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

// faceAt builds an observation with full landmarks translated by (dx, dy)
// and the nose tip shifted by noseDX.
func faceAt(dx, dy, noseDX float64) *observation.Observation {
	pts := make([]observation.Point, observation.LandmarkCount)
	for i := range pts {
		pts[i] = observation.Point{X: 300 + dx + float64(i%10), Y: 200 + dy + float64(i/10)}
	}
	pts[observation.NoseTip].X += noseDX
	return &observation.Observation{
		DetectionConfidence: 0.9,
		Box:                 observation.Box{X: 240 + dx, Y: 140 + dy, Width: 160, Height: 200},
		Landmarks:           pts,
		FrameWidth:          640,
		FrameHeight:         480,
	}
}

func TestWindow(t *testing.T) {
	w := NewWindow[int](3)
	for i := 1; i <= 5; i++ {
		w = w.Push(i)
	}
	if w.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", w.Len())
	}
	items := w.Items()
	if items[0] != 3 || items[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", items)
	}

	older := w
	_ = w.Push(6)
	if older.Items()[0] != 3 {
		t.Error("Push mutated the receiver")
	}
}

func TestMicroMovement(t *testing.T) {
	a := []observation.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	b := []observation.Point{{X: 1, Y: 1}, {X: 10, Y: 12}}

	if got := MicroMovement(a, b); got != 2 {
		t.Errorf("expected 2, got %f", got)
	}
	if got := MicroMovement(a, nil); got != 0 {
		t.Errorf("expected 0 without prior landmarks, got %f", got)
	}
}

func TestPoseVariance(t *testing.T) {
	poses := []observation.Point{{X: 1, Y: 0}, {X: 3, Y: 0}, {X: 1, Y: 2}, {X: 3, Y: 2}}
	// var(x) = 1, var(y) = 1
	if got := PoseVariance(poses); math.Abs(got-2) > 1e-9 {
		t.Errorf("expected 2, got %f", got)
	}
}

func TestEvaluateMotion_StaticSpoof(t *testing.T) {
	cfg := DefaultMotionConfig()
	state := NewMotionState(cfg)

	// A photo held almost still: sub-threshold jitter, frozen pose.
	for i := 0; i < 20; i++ {
		jitter := 0.1 * float64(i%2)
		res := EvaluateMotion(faceAt(jitter, 0, 0), state, false, cfg)
		state = res.State
	}

	if state.StaticFrames <= cfg.StaticFrameLimit {
		t.Fatalf("expected static frames above %d, got %d", cfg.StaticFrameLimit, state.StaticFrames)
	}
	if !state.SpoofSuspected {
		t.Fatal("expected spoof suspected for a frozen face")
	}
	if state.PoseHistory.Len() != cfg.PoseHistorySize {
		t.Errorf("pose history should be bounded at %d, got %d", cfg.PoseHistorySize, state.PoseHistory.Len())
	}

	// Real movement clears the flag.
	res := EvaluateMotion(faceAt(5, 3, 0), state, false, cfg)
	if res.State.SpoofSuspected {
		t.Error("large movement should clear spoof flag")
	}
	if res.State.StaticFrames != state.StaticFrames-1 {
		t.Errorf("expected static frames to decrement, got %d", res.State.StaticFrames)
	}
}

func TestEvaluateMotion_GestureCompleteClears(t *testing.T) {
	cfg := DefaultMotionConfig()
	state := NewMotionState(cfg)
	state.SpoofSuspected = true
	state.StaticFrames = 20

	res := EvaluateMotion(faceAt(0.1, 0, 0), state, true, cfg)
	if res.State.SpoofSuspected {
		t.Error("gesture completion should clear spoof flag")
	}
}

func TestEvaluateMotion_VaryingPoseNotSpoof(t *testing.T) {
	cfg := DefaultMotionConfig()
	state := NewMotionState(cfg)

	for i := 0; i < 25; i++ {
		// body still, nose swinging: pose variance well above threshold
		res := EvaluateMotion(faceAt(0.1*float64(i%2), 0, float64(i%4)*2), state, false, cfg)
		state = res.State
	}
	if state.SpoofSuspected {
		t.Error("varying head pose must not be flagged")
	}
}

func TestEvaluateMotion_StaticCounterFloor(t *testing.T) {
	cfg := DefaultMotionConfig()
	state := NewMotionState(cfg)

	for i := 0; i < 5; i++ {
		state = EvaluateMotion(faceAt(float64(i)*10, 0, 0), state, false, cfg).State
		if state.StaticFrames < 0 {
			t.Fatalf("static frames went negative: %d", state.StaticFrames)
		}
	}
	if state.StaticFrames != 0 {
		t.Errorf("expected 0 static frames, got %d", state.StaticFrames)
	}
}

func TestScore_Indicators(t *testing.T) {
	cfg := DefaultScoreConfig()

	tests := []struct {
		name    string
		sig     Signals
		moved   bool
		want    int
		penalty bool
	}{
		{"confidence only", Signals{}, false, 1, false},
		{"movement", Signals{}, true, 2, false},
		{"gesture complete counts twice", Signals{GestureComplete: true}, false, 3, false},
		{"changed flag", Signals{GestureChanged: true}, false, 2, false},
		{"spoof penalty", Signals{SpoofSuspected: true}, false, 0, true},
		{"no penalty once complete", Signals{SpoofSuspected: true, GestureComplete: true}, false, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewScoreState(cfg)
			state = Score(faceAt(0, 0, 0), state, Signals{}, cfg).State

			dx := 0.0
			if tt.moved {
				dx = 3
			}
			res := Score(faceAt(dx, 0, 0), state, tt.sig, cfg)
			if res.Indicators.Count != tt.want {
				t.Errorf("expected %d indicators, got %+v", tt.want, res.Indicators)
			}
			if res.Indicators.SpoofPenalty != tt.penalty {
				t.Errorf("SpoofPenalty = %v, want %v", res.Indicators.SpoofPenalty, tt.penalty)
			}
			if want := float64(tt.want) / MaxIndicators * 100; math.Abs(res.FrameScore-want) > 1e-9 {
				t.Errorf("FrameScore = %f, want %f", res.FrameScore, want)
			}
		})
	}
}

func TestScore_Smoothing(t *testing.T) {
	cfg := DefaultScoreConfig()
	state := NewScoreState(cfg)
	state.Score = 50

	// confident + complete gesture = 3 indicators = 50
	res := Score(faceAt(0, 0, 0), state, Signals{GestureComplete: true}, cfg)
	if math.Abs(res.State.Score-50) > 1e-9 {
		t.Errorf("expected 50, got %f", res.State.Score)
	}

	state.Score = 0
	res = Score(faceAt(0, 0, 0), state, Signals{GestureComplete: true, GestureChanged: true}, cfg)
	// frame 4/6*100, weighted 0.3
	if math.Abs(res.State.Score-20) > 1e-9 {
		t.Errorf("expected 20, got %f", res.State.Score)
	}
}

func TestScore_SwayingWindow(t *testing.T) {
	cfg := DefaultScoreConfig()
	state := NewScoreState(cfg)

	var res ScoreResult
	for i := 0; i < 12; i++ {
		res = Score(faceAt(float64(i%2)*8, 0, 0), state, Signals{}, cfg)
		state = res.State
	}
	if !res.Indicators.Swaying {
		t.Error("expected swaying indicator for oscillating center")
	}
	if state.CenterX.Len() != cfg.CenterWindowSize {
		t.Errorf("center window should hold %d samples, got %d", cfg.CenterWindowSize, state.CenterX.Len())
	}
}

func TestDecay_NonIncreasing(t *testing.T) {
	cfg := DefaultScoreConfig()
	state := NewScoreState(cfg)
	state.Score = 12

	prev := state.Score
	for i := 0; i < 5; i++ {
		state = Decay(state, cfg)
		if state.Score > prev {
			t.Fatalf("score increased on no-face tick: %f > %f", state.Score, prev)
		}
		if state.Score < 0 {
			t.Fatalf("score went negative: %f", state.Score)
		}
		prev = state.Score
	}
	if state.Score != 0 {
		t.Errorf("expected score floored at 0, got %f", state.Score)
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	cfg := DefaultScoreConfig()
	rng := rand.New(rand.NewSource(42))
	state := NewScoreState(cfg)

	for i := 0; i < 2000; i++ {
		if rng.Intn(5) == 0 {
			state = Decay(state, cfg)
		} else {
			obs := faceAt(rng.Float64()*40, rng.Float64()*40, 0)
			obs.DetectionConfidence = rng.Float64()
			sig := Signals{
				GestureComplete: rng.Intn(2) == 0,
				GestureChanged:  rng.Intn(2) == 0,
				SpoofSuspected:  rng.Intn(2) == 0,
			}
			state = Score(obs, state, sig, cfg).State
		}
		if state.Score < 0 || state.Score > 100 {
			t.Fatalf("tick %d: score out of range: %f", i, state.Score)
		}
	}
}
