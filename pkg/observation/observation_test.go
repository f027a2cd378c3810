package observation

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// makeFace builds a 68-point landmark set with eyes and nose at fixed offsets from origin.
func makeFace(origin Point) []Point {
	pts := make([]Point, LandmarkCount)
	for i := range pts {
		pts[i] = Point{X: origin.X + float64(i), Y: origin.Y}
	}
	for i := LeftEyeStart; i < LeftEyeEnd; i++ {
		pts[i] = Point{X: origin.X - 20, Y: origin.Y - 10}
	}
	for i := RightEyeStart; i < RightEyeEnd; i++ {
		pts[i] = Point{X: origin.X + 20, Y: origin.Y - 10}
	}
	pts[NoseTip] = Point{X: origin.X + 3, Y: origin.Y + 15}
	return pts
}

func TestPointAndBox(t *testing.T) {
	if d := (Point{X: 0, Y: 0}).Dist(Point{X: 3, Y: 4}); d != 5 {
		t.Errorf("expected distance 5, got %f", d)
	}

	c := Box{X: 10, Y: 20, Width: 100, Height: 50}.Center()
	if c.X != 60 || c.Y != 45 {
		t.Errorf("expected center (60,45), got (%f,%f)", c.X, c.Y)
	}
}

func TestHeadPose(t *testing.T) {
	obs := &Observation{Landmarks: makeFace(Point{X: 100, Y: 100})}

	pose, ok := obs.HeadPose()
	if !ok {
		t.Fatal("expected head pose with full landmarks")
	}
	// midpoint is (100, 90); nose is (103, 115)
	if math.Abs(pose.X-3) > 1e-9 || math.Abs(pose.Y-25) > 1e-9 {
		t.Errorf("expected pose (3,25), got (%f,%f)", pose.X, pose.Y)
	}
}

func TestHeadPose_PartialLandmarks(t *testing.T) {
	obs := &Observation{Landmarks: make([]Point, 5)}
	if _, ok := obs.HeadPose(); ok {
		t.Error("expected no head pose with 5 landmarks")
	}
	if obs.LeftEye() != nil || obs.RightEye() != nil {
		t.Error("expected nil eyes with 5 landmarks")
	}

	var nilObs *Observation
	if nilObs.HasFullLandmarks() {
		t.Error("nil observation must not report landmarks")
	}
}

func TestReplaySource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "still.jpg"), []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	content := strings.Join([]string{
		`{"detection_confidence":0.9,"box":{"x":200,"y":120,"width":240,"height":200},"expressions":{"happy":0.8}}`,
		``,
		`{"face":false}`,
		`{}`,
		`{"detection_confidence":0.9,"box":{"x":1,"y":1,"width":10,"height":10},"frame_width":320,"frame_height":240,"image_path":"still.jpg"}`,
	}, "\n")
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write replay: %v", err)
	}

	src, err := OpenReplay(path)
	if err != nil {
		t.Fatalf("OpenReplay failed: %v", err)
	}
	defer src.Close()
	src.FrameWidth, src.FrameHeight = 640, 480

	ctx := context.Background()

	first, err := src.Next(ctx)
	if err != nil || first == nil {
		t.Fatalf("expected first observation, got %v, %v", first, err)
	}
	if first.FrameWidth != 640 || first.FrameHeight != 480 {
		t.Errorf("expected default frame size, got %dx%d", first.FrameWidth, first.FrameHeight)
	}
	if first.Expressions["happy"] != 0.8 {
		t.Errorf("expected happy=0.8, got %f", first.Expressions["happy"])
	}

	for i := 0; i < 3; i++ {
		obs, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("tick %d: unexpected error %v", i, err)
		}
		if obs != nil {
			t.Errorf("tick %d: expected no-face tick", i)
		}
	}

	last, err := src.Next(ctx)
	if err != nil || last == nil {
		t.Fatalf("expected last observation, got %v, %v", last, err)
	}
	if last.FrameWidth != 320 {
		t.Errorf("explicit frame width overridden: %d", last.FrameWidth)
	}
	if string(last.Image) != "jpeg-bytes" {
		t.Errorf("image not loaded from image_path, got %q", string(last.Image))
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestReplaySource_InvalidLine(t *testing.T) {
	src := NewReplay(strings.NewReader("{not json"), "")
	if _, err := src.Next(context.Background()); err == nil {
		t.Error("expected error for invalid JSON line")
	}
}

func TestReplaySource_ContextCancelled(t *testing.T) {
	src := NewReplay(strings.NewReader(`{"box":{"width":1,"height":1}}`), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()
	mb := NewMailbox()

	if _, err := mb.Next(ctx); !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame on empty mailbox, got %v", err)
	}

	older := &Observation{DetectionConfidence: 0.1}
	newer := &Observation{DetectionConfidence: 0.9}
	mb.Put(older)
	mb.Put(newer)

	if mb.Dropped() != 1 {
		t.Errorf("expected 1 dropped observation, got %d", mb.Dropped())
	}
	if !mb.Pending() {
		t.Error("expected a pending observation")
	}

	got, err := mb.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != newer {
		t.Error("expected newest observation to win")
	}
	if mb.Pending() {
		t.Error("reading must consume the pending observation")
	}

	// explicit no-face push
	mb.Put(nil)
	got, err = mb.Next(ctx)
	if err != nil || got != nil {
		t.Errorf("expected no-face tick, got %v, %v", got, err)
	}

	mb.Close()
	if mb.Put(newer) {
		t.Error("Put should fail after Close")
	}
	if _, err := mb.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted after Close, got %v", err)
	}
}
