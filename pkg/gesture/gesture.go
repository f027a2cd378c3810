// Package gesture tracks the voluntary gesture a session asks for: a number
// of blinks, or an ordered sequence of facial expressions each held for a
// few ticks. Step is a pure function; callers own the Progress value.
package gesture

import (
	"errors"
	"fmt"
	"sort"

	"github.com/MrCodeEU/facecheck/pkg/observation"
)

// Kind selects the gesture strategy for a session.
type Kind string

const (
	KindBlink       Kind = "blink"
	KindExpressions Kind = "expressions"
)

// Expression labels produced by common expression classifiers.
const (
	Neutral   = "neutral"
	Happy     = "happy"
	Sad       = "sad"
	Angry     = "angry"
	Fearful   = "fearful"
	Disgusted = "disgusted"
	Surprised = "surprised"
)

// ErrUnknownKind is returned for an unsupported gesture kind.
var ErrUnknownKind = errors.New("unknown gesture kind")

// Config holds gesture requirements and thresholds.
type Config struct {
	Kind Kind

	RequiredBlinks     int
	EARThreshold       float64 // eyes closed below this
	BlinkCooldownTicks int

	Expressions              []string // completed in order
	ExpressionMinProbability float64
	HoldTicks                int
}

// DefaultConfig returns a single-blink configuration.
func DefaultConfig() Config {
	return Config{
		Kind:                     KindBlink,
		RequiredBlinks:           1,
		EARThreshold:             0.25,
		BlinkCooldownTicks:       5,
		Expressions:              []string{Happy, Surprised},
		ExpressionMinProbability: 0.5,
		HoldTicks:                3,
	}
}

// Validate checks the configuration for the selected kind.
func (c Config) Validate() error {
	switch c.Kind {
	case KindBlink:
		if c.RequiredBlinks < 1 {
			return fmt.Errorf("required blinks must be at least 1, got %d", c.RequiredBlinks)
		}
		if c.EARThreshold <= 0 {
			return fmt.Errorf("EAR threshold must be positive, got %f", c.EARThreshold)
		}
		if c.BlinkCooldownTicks < 0 {
			return fmt.Errorf("blink cooldown must not be negative, got %d", c.BlinkCooldownTicks)
		}
	case KindExpressions:
		if len(c.Expressions) == 0 {
			return errors.New("expression sequence must not be empty")
		}
		if c.HoldTicks < 1 {
			return fmt.Errorf("hold ticks must be at least 1, got %d", c.HoldTicks)
		}
		if c.ExpressionMinProbability < 0 || c.ExpressionMinProbability > 1 {
			return fmt.Errorf("expression probability must be between 0 and 1, got %f", c.ExpressionMinProbability)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}

// BlinkProgress is the blink counter state.
type BlinkProgress struct {
	Count      int
	Cooldown   int
	EyesClosed bool
}

// ExpressionProgress is the expression sequence state.
type ExpressionProgress struct {
	Completed []string
	Hold      int
}

// Progress is the gesture state carried from tick to tick.
type Progress struct {
	Kind        Kind
	Blink       BlinkProgress
	Expressions ExpressionProgress

	// LastDominant is the dominant expression seen on the previous face tick.
	LastDominant string
	// Changed is set once a blink is counted or the dominant expression changes.
	Changed bool
	// Complete is sticky.
	Complete bool
}

// NewProgress returns empty progress for cfg.
func NewProgress(cfg Config) Progress {
	return Progress{Kind: cfg.Kind}
}

// Update is the outcome of one Step.
type Update struct {
	Progress Progress

	EAR          float64 // 0 without full landmarks
	HasEAR       bool
	BlinkCounted bool
	Dominant     string
	Completed    string // label completed this tick, if any
}

// Step advances prev with one observation. It never modifies prev.
// A nil observation leaves the progress unchanged.
func Step(obs *observation.Observation, prev Progress, cfg Config) Update {
	if obs == nil {
		return Update{Progress: prev}
	}

	next := prev
	next.Expressions.Completed = append([]string(nil), prev.Expressions.Completed...)

	u := Update{}

	dominant, _ := Dominant(obs.Expressions)
	u.Dominant = dominant
	if dominant != "" {
		if prev.LastDominant != "" && dominant != prev.LastDominant {
			next.Changed = true
		}
		next.LastDominant = dominant
	}

	switch cfg.Kind {
	case KindBlink:
		u.EAR, u.HasEAR = EyeAspectRatio(obs)
		next.Blink, u.BlinkCounted = stepBlink(prev.Blink, u.EAR, u.HasEAR, cfg)
		if u.BlinkCounted {
			next.Changed = true
		}
		if next.Blink.Count >= cfg.RequiredBlinks {
			next.Complete = true
		}
	case KindExpressions:
		next.Expressions, u.Completed = stepExpressions(next.Expressions, obs.Expressions, cfg)
		if len(next.Expressions.Completed) >= len(cfg.Expressions) {
			next.Complete = true
		}
	}

	if prev.Complete {
		next.Complete = true
	}
	u.Progress = next
	return u
}

func stepBlink(prev BlinkProgress, ear float64, hasEAR bool, cfg Config) (BlinkProgress, bool) {
	next := prev
	if !hasEAR {
		if next.Cooldown > 0 {
			next.Cooldown--
		}
		return next, false
	}

	closed := ear < cfg.EARThreshold
	opened := prev.EyesClosed && !closed
	next.EyesClosed = closed

	if opened && prev.Cooldown == 0 {
		next.Count++
		next.Cooldown = cfg.BlinkCooldownTicks
		return next, true
	}
	if next.Cooldown > 0 {
		next.Cooldown--
	}
	return next, false
}

func stepExpressions(prev ExpressionProgress, probs map[string]float64, cfg Config) (ExpressionProgress, string) {
	next := prev
	idx := len(prev.Completed)
	if idx >= len(cfg.Expressions) {
		next.Hold = 0
		return next, ""
	}
	target := cfg.Expressions[idx]

	dominant, p := Dominant(probs)
	if dominant != target || p < cfg.ExpressionMinProbability {
		next.Hold = 0
		return next, ""
	}

	next.Hold++
	if next.Hold >= cfg.HoldTicks {
		next.Completed = append(next.Completed, target)
		next.Hold = 0
		return next, target
	}
	return next, ""
}

// Dominant returns the label with the highest probability. Ties go to the
// lexically smallest label so the result does not depend on map order.
func Dominant(probs map[string]float64) (string, float64) {
	labels := make([]string, 0, len(probs))
	for label := range probs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestP := "", 0.0
	for _, label := range labels {
		if p := probs[label]; best == "" || p > bestP {
			best, bestP = label, p
		}
	}
	return best, bestP
}

// EyeAspectRatio returns the EAR averaged over both eyes. It reports false
// when the observation lacks the full landmark set.
func EyeAspectRatio(obs *observation.Observation) (float64, bool) {
	left, right := obs.LeftEye(), obs.RightEye()
	if left == nil || right == nil {
		return 0, false
	}
	return (eyeRatio(left) + eyeRatio(right)) / 2, true
}

// eyeRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) over six eye points.
func eyeRatio(eye []observation.Point) float64 {
	width := eye[0].Dist(eye[3])
	if width == 0 {
		return 0
	}
	return (eye[1].Dist(eye[5]) + eye[2].Dist(eye[4])) / (2 * width)
}

// Remaining returns the labels not yet completed, in order.
func (p Progress) Remaining(cfg Config) []string {
	if cfg.Kind != KindExpressions || len(p.Expressions.Completed) >= len(cfg.Expressions) {
		return nil
	}
	return cfg.Expressions[len(p.Expressions.Completed):]
}

// LabelStatus reports per-label completion for display.
func (p Progress) LabelStatus(cfg Config) map[string]bool {
	switch cfg.Kind {
	case KindExpressions:
		status := make(map[string]bool, len(cfg.Expressions))
		for i, label := range cfg.Expressions {
			status[label] = status[label] || i < len(p.Expressions.Completed)
		}
		return status
	default:
		return map[string]bool{string(KindBlink): p.Complete}
	}
}
