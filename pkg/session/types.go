package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/facematch"
	"github.com/MrCodeEU/facecheck/pkg/geometry"
	"github.com/MrCodeEU/facecheck/pkg/gesture"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCaptured  Status = "captured"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further ticks are processed in this status.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Reason is the failure reason code of a failed session.
type Reason string

const (
	ReasonSpoofDetected       Reason = "spoof_detected"
	ReasonFaceMismatch        Reason = "face_mismatch"
	ReasonLivenessUnavailable Reason = "liveness_unavailable"
	ReasonFaceInconclusive    Reason = "face_inconclusive"
	ReasonTimeout             Reason = "timeout"
)

// Failure is the structured reason a session failed.
type Failure struct {
	Reason  Reason                 `json:"reason"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (f *Failure) Error() string {
	return f.Message
}

var failureMessages = map[Reason]string{
	ReasonSpoofDetected:       "We could not confirm that a live person is in front of the camera",
	ReasonFaceMismatch:        "The face does not match the reference photo",
	ReasonLivenessUnavailable: "Liveness verification is currently unavailable. Please try again later",
	ReasonFaceInconclusive:    "We could not confirm that the face matches the reference photo",
	ReasonTimeout:             "The verification took too long. Please start again",
}

// GetFailureMessage returns a user-facing message for a reason code.
func GetFailureMessage(reason Reason) string {
	if msg, ok := failureMessages[reason]; ok {
		return msg
	}
	return "Verification failed"
}

// NewFailure creates a failure with the standard message for reason.
func NewFailure(reason Reason) *Failure {
	return &Failure{
		Reason:  reason,
		Message: GetFailureMessage(reason),
		Details: make(map[string]interface{}),
	}
}

// Guidance is the single instruction shown to the user for a tick.
type Guidance string

const (
	GuidanceNoFace            Guidance = "no_face"
	GuidanceNotCentered       Guidance = "not_centered"
	GuidanceTooClose          Guidance = "too_close"
	GuidanceTooFar            Guidance = "too_far"
	GuidanceSpoofSuspected    Guidance = "spoof_suspected"
	GuidanceGestureIncomplete Guidance = "gesture_incomplete"
	GuidanceScoreLow          Guidance = "score_low"
	GuidanceHoldSteady        Guidance = "hold_steady"
)

var guidanceMessages = map[Guidance]string{
	GuidanceNoFace:            "Please position your face in front of the camera",
	GuidanceNotCentered:       "Center your face in the frame",
	GuidanceTooClose:          "Move a little further from the camera",
	GuidanceTooFar:            "Move closer to the camera",
	GuidanceSpoofSuspected:    "Move your head slightly",
	GuidanceGestureIncomplete: "Follow the on-screen instruction",
	GuidanceScoreLow:          "Keep looking at the camera",
	GuidanceHoldSteady:        "Hold steady",
}

// GetGuidanceMessage returns a user-facing message for a guidance code.
func GetGuidanceMessage(g Guidance) string {
	if msg, ok := guidanceMessages[g]; ok {
		return msg
	}
	return ""
}

// Errors returned by the controller.
var (
	// ErrSessionEnded is returned by Tick once the session is terminal.
	ErrSessionEnded = errors.New("session has ended")

	// ErrNoSource is returned when a controller is created without a source.
	ErrNoSource = errors.New("no observation source")
)

// LivenessVerifier is the remote liveness check.
type LivenessVerifier interface {
	VerifyLiveness(ctx context.Context, req verifier.LivenessRequest) (*verifier.LivenessResult, error)
}

// FaceComparer is the remote face comparison.
type FaceComparer interface {
	CompareFaces(ctx context.Context, req verifier.CompareRequest) (*verifier.CompareResult, error)
}

// EmbeddingComparator measures the embedding distance between the faces in
// two images. A nil distance means either image had no usable face.
type EmbeddingComparator interface {
	Distance(reference, candidate []byte) (*float64, error)
}

// Config holds every tunable of a session.
type Config struct {
	Gesture  gesture.Config
	Geometry geometry.Thresholds
	Motion   liveness.MotionConfig
	Score    liveness.ScoreConfig
	Match    facematch.Thresholds

	// RequiredCenteredFrames is the consecutive centered ticks needed to capture.
	RequiredCenteredFrames int
	// ScoreThreshold is the score below which the user is asked to keep looking.
	ScoreThreshold float64
	// MinRemoteConfidence is the remote liveness confidence needed to pass.
	MinRemoteConfidence int

	TickInterval time.Duration
	// RevalidationWait bounds how long capture waits for a fresh frame
	// from a source that has none pending.
	RevalidationWait time.Duration
	// MaxDuration fails the session with a timeout; zero disables it.
	MaxDuration time.Duration

	// RequireRemoteLiveness fails the capture when the remote check is unavailable.
	RequireRemoteLiveness bool
	// RejectInconclusive fails the session on an inconclusive face match.
	RejectInconclusive bool
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Gesture:                gesture.DefaultConfig(),
		Geometry:               geometry.DefaultThresholds(),
		Motion:                 liveness.DefaultMotionConfig(),
		Score:                  liveness.DefaultScoreConfig(),
		Match:                  facematch.DefaultThresholds(),
		RequiredCenteredFrames: 10,
		ScoreThreshold:         70,
		MinRemoteConfidence:    70,
		TickInterval:           200 * time.Millisecond,
		RevalidationWait:       time.Second,
	}
}

// State is the mutable session state. Only the controller's tick writes it.
type State struct {
	Status         Status
	Failure        *Failure
	Score          liveness.ScoreState
	CenteredFrames int
	Motion         liveness.MotionState
	Gesture        gesture.Progress
	Ticks          int
}

// NewState returns the initial state for cfg.
func NewState(cfg Config) State {
	return State{
		Status:  StatusRunning,
		Score:   liveness.NewScoreState(cfg.Score),
		Motion:  liveness.NewMotionState(cfg.Motion),
		Gesture: gesture.NewProgress(cfg.Gesture),
	}
}

// LivenessScore returns the smoothed score in [0,100].
func (s *State) LivenessScore() float64 {
	return s.Score.Score
}

// SpoofSuspected reports whether the static-face heuristic is active.
func (s *State) SpoofSuspected() bool {
	return s.Motion.SpoofSuspected
}

// Report is what a tick exposes to the UI.
type Report struct {
	Tick            int                 `json:"tick"`
	Skipped         bool                `json:"skipped,omitempty"`
	FaceFound       bool                `json:"face_found"`
	Guidance        Guidance            `json:"guidance"`
	Message         string              `json:"message"`
	Score           float64             `json:"score"`
	Centered        bool                `json:"centered"`
	Size            geometry.Size       `json:"size,omitempty"`
	CenteredFrames  int                 `json:"centered_frames"`
	GestureComplete bool                `json:"gesture_complete"`
	Gestures        map[string]bool     `json:"gestures"`
	SpoofSuspected  bool                `json:"spoof_suspected"`
	Indicators      liveness.Indicators `json:"indicators"`
	Triggered       bool                `json:"triggered,omitempty"`
	Status          Status              `json:"status"`
}

// CaptureResult is the still taken when capture succeeds.
type CaptureResult struct {
	Image         []byte  `json:"-"`
	LivenessScore float64 `json:"liveness_score"`
	AIVerified    bool    `json:"ai_verified"`
	RemoteReason  string  `json:"remote_reason,omitempty"`
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID    string              `json:"session_id"`
	Status       Status              `json:"status"`
	Failure      *Failure            `json:"failure,omitempty"`
	Capture      *CaptureResult      `json:"capture,omitempty"`
	FaceMatch    *facematch.Decision `json:"face_match,omitempty"`
	Ticks        int                 `json:"ticks"`
	SkippedTicks int                 `json:"skipped_ticks"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}
