// Package session drives one liveness session: it feeds observations
// through the geometry, gesture, motion and scoring evaluators on a fixed
// tick, decides when to capture, runs the remote checks and reports the
// terminal outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/facematch"
	"github.com/MrCodeEU/facecheck/pkg/geometry"
	"github.com/MrCodeEU/facecheck/pkg/gesture"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

const revalidationPoll = 20 * time.Millisecond

// Deps are the collaborators a controller calls. Only Source is required.
type Deps struct {
	Source     observation.Source
	Liveness   LivenessVerifier
	Comparer   FaceComparer
	Embeddings EmbeddingComparator
}

// Controller owns a session's state and processes one tick at a time.
type Controller struct {
	id        string
	cfg       Config
	deps      Deps
	reference []byte
	log       *logrus.Entry
	now       func() time.Time

	busy       atomic.Bool
	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
	skipped    atomic.Int64

	// state is only touched by the goroutine holding busy.
	state     State
	startedAt time.Time

	mu     sync.RWMutex
	report Report
	result *Result
}

// New creates a controller. reference is the optional reference face image;
// when present the capture is matched against it.
func New(cfg Config, deps Deps, reference []byte) (*Controller, error) {
	if deps.Source == nil {
		return nil, ErrNoSource
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	c := &Controller{
		id:        id,
		cfg:       cfg,
		deps:      deps,
		reference: reference,
		log:       logging.ForSession("session", id),
		now:       time.Now,
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		state:     NewState(cfg),
	}
	c.startedAt = c.now()
	c.report = Report{Status: StatusRunning, Guidance: GuidanceNoFace, Message: GetGuidanceMessage(GuidanceNoFace)}
	c.log.WithFields(logrus.Fields{
		"gesture":   cfg.Gesture.Kind,
		"reference": len(reference) > 0,
	}).Info("Session started")
	return c, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Gesture.Validate(); err != nil {
		return fmt.Errorf("invalid gesture config: %w", err)
	}
	if c.RequiredCenteredFrames < 1 {
		return fmt.Errorf("required centered frames must be at least 1, got %d", c.RequiredCenteredFrames)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.Score.Smoothing <= 0 || c.Score.Smoothing > 1 {
		return fmt.Errorf("score smoothing must be in (0,1], got %f", c.Score.Smoothing)
	}
	return nil
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// HasReference reports whether the session matches against a reference face.
func (c *Controller) HasReference() bool {
	return len(c.reference) > 0
}

// Cancel requests cancellation. It takes effect on the next tick; results
// of remote calls still in flight are discarded.
func (c *Controller) Cancel() {
	c.cancelled.Store(true)
	c.cancelOnce.Do(func() { close(c.cancelCh) })
}

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the report of the latest tick.
func (c *Controller) Snapshot() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.report
	r.Gestures = copyLabels(r.Gestures)
	return r
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report.Status
}

// Result returns the terminal outcome, or nil while running.
func (c *Controller) Result() *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

// Run ticks at the configured interval until the session ends or ctx is
// done. A timer fire that arrives while a tick is still in progress is
// dropped, not queued.
func (c *Controller) Run(ctx context.Context) *Result {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
		case <-c.cancelCh:
		case <-ticker.C:
		}

		if _, err := c.Tick(ctx); errors.Is(err, ErrSessionEnded) || c.Status().Terminal() {
			return c.Result()
		}
		c.dropPending(ticker)
	}
}

func (c *Controller) dropPending(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
			c.skipped.Add(1)
			c.log.Debug("Tick skipped, previous tick overran")
		default:
			return
		}
	}
}

// Tick processes one observation. A call made while another tick is in
// progress returns immediately with a skipped report.
func (c *Controller) Tick(ctx context.Context) (Report, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		r := c.Snapshot()
		r.Skipped = true
		return r, nil
	}
	defer c.busy.Store(false)

	if c.state.Status.Terminal() {
		return c.Snapshot(), ErrSessionEnded
	}

	if c.interrupted(ctx) {
		c.finish(StatusCancelled, nil, nil, nil)
		return c.publish(Report{}), nil
	}
	if c.cfg.MaxDuration > 0 && c.now().Sub(c.startedAt) >= c.cfg.MaxDuration {
		c.log.Warn("Session timed out before capture")
		c.finish(StatusFailed, NewFailure(ReasonTimeout), nil, nil)
		return c.publish(Report{}), nil
	}

	obs, err := c.deps.Source.Next(ctx)
	switch {
	case err == nil:
	case errors.Is(err, observation.ErrNoFrame):
		r := c.Snapshot()
		r.Skipped = true
		return r, nil
	case errors.Is(err, observation.ErrExhausted):
		c.log.Info("Observation source exhausted before capture")
		c.finish(StatusCancelled, nil, nil, nil)
		return c.publish(Report{}), nil
	case c.interrupted(ctx):
		c.finish(StatusCancelled, nil, nil, nil)
		return c.publish(Report{}), nil
	default:
		c.log.WithError(err).Warn("Observation failed, treating tick as no face")
		obs = nil
	}

	c.state.Ticks++

	var r Report
	if obs == nil {
		r = c.noFace()
	} else {
		r = c.process(ctx, obs)
	}
	return c.publish(r), nil
}

func (c *Controller) interrupted(ctx context.Context) bool {
	return c.cancelled.Load() || ctx.Err() != nil
}

func (c *Controller) noFace() Report {
	c.state.Score = liveness.Decay(c.state.Score, c.cfg.Score)
	c.state.CenteredFrames = 0
	return Report{Guidance: GuidanceNoFace}
}

func (c *Controller) process(ctx context.Context, obs *observation.Observation) Report {
	st := &c.state
	wasSpoof := st.Motion.SpoofSuspected

	verdict := geometry.Evaluate(obs.Box, obs.FrameWidth, obs.FrameHeight, c.cfg.Geometry)
	gu := gesture.Step(obs, st.Gesture, c.cfg.Gesture)
	mo := liveness.EvaluateMotion(obs, st.Motion, gu.Progress.Complete, c.cfg.Motion)
	sc := liveness.Score(obs, st.Score, liveness.Signals{
		GestureComplete: gu.Progress.Complete,
		GestureChanged:  gu.Progress.Changed,
		SpoofSuspected:  mo.State.SpoofSuspected,
	}, c.cfg.Score)

	st.Gesture = gu.Progress
	st.Motion = mo.State
	st.Score = sc.State

	if verdict.Centered {
		st.CenteredFrames++
	} else {
		st.CenteredFrames = 0
	}

	if gu.BlinkCounted {
		c.log.Debugf("Blink %d/%d counted", st.Gesture.Blink.Count, c.cfg.Gesture.RequiredBlinks)
	}
	if gu.Completed != "" {
		c.log.Debugf("Expression %q completed", gu.Completed)
	}
	if !wasSpoof && st.Motion.SpoofSuspected {
		c.log.WithField("pose_variance", mo.PoseVariance).Warn("Static face suspected")
	}

	r := Report{
		FaceFound:  true,
		Guidance:   guide(verdict, st, c.cfg.ScoreThreshold),
		Centered:   verdict.Centered,
		Size:       verdict.Size,
		Indicators: sc.Indicators,
	}

	if c.readyToCapture(verdict) {
		r.Triggered = c.capture(ctx, obs)
	}
	return r
}

// guide picks the single guidance code for a tick, highest priority first.
func guide(v geometry.Verdict, st *State, scoreThreshold float64) Guidance {
	switch {
	case !v.Centered:
		return GuidanceNotCentered
	case v.Size == geometry.SizeTooClose:
		return GuidanceTooClose
	case v.Size == geometry.SizeTooFar:
		return GuidanceTooFar
	case st.Motion.SpoofSuspected:
		return GuidanceSpoofSuspected
	case !st.Gesture.Complete:
		return GuidanceGestureIncomplete
	case st.Score.Score < scoreThreshold:
		return GuidanceScoreLow
	default:
		return GuidanceHoldSteady
	}
}

func (c *Controller) readyToCapture(v geometry.Verdict) bool {
	st := &c.state
	return st.CenteredFrames >= c.cfg.RequiredCenteredFrames &&
		st.Gesture.Complete &&
		!st.Motion.SpoofSuspected &&
		v.ProperSize()
}

// capture re-validates against a fresh observation and, if it is still
// centered, runs the remote checks and ends the session. It returns false
// when the trigger was aborted and the session keeps running.
func (c *Controller) capture(ctx context.Context, trigger *observation.Observation) bool {
	fresh, err := c.freshObservation(ctx)
	if err != nil || fresh == nil {
		c.log.Debug("Capture aborted: no fresh observation for re-validation")
		return false
	}
	if v := geometry.Evaluate(fresh.Box, fresh.FrameWidth, fresh.FrameHeight, c.cfg.Geometry); !v.Centered {
		c.log.Debug("Capture aborted: face moved off center during re-validation")
		return false
	}

	image := fresh.Image
	if len(image) == 0 {
		image = trigger.Image
	}
	capture := &CaptureResult{Image: image}
	c.log.WithField("score", c.state.Score.Score).Info("Capture triggered")

	live, err := c.verifyLiveness(ctx, image)
	if c.interrupted(ctx) {
		c.finish(StatusCancelled, nil, nil, nil)
		return true
	}

	switch {
	case err != nil:
		c.log.WithError(err).Warn("Remote liveness unavailable")
		if c.cfg.RequireRemoteLiveness {
			f := NewFailure(ReasonLivenessUnavailable)
			f.Details["error"] = err.Error()
			capture.LivenessScore = c.state.Score.Score
			c.finish(StatusFailed, f, capture, nil)
			return true
		}
	case !live.IsLive || live.Confidence < c.cfg.MinRemoteConfidence:
		c.state.Motion.SpoofSuspected = true
		c.log.Errorf("SECURITY ALERT: remote liveness rejected capture (live: %v, confidence: %d): %s",
			live.IsLive, live.Confidence, live.Reason)

		f := NewFailure(ReasonSpoofDetected)
		f.Details["confidence"] = live.Confidence
		if live.Reason != "" {
			f.Details["remote_reason"] = live.Reason
		}
		capture.LivenessScore = c.state.Score.Score
		capture.RemoteReason = live.Reason
		c.finish(StatusFailed, f, capture, nil)
		return true
	default:
		c.state.Score.Score = 100
		capture.AIVerified = true
		capture.RemoteReason = live.Reason
	}
	capture.LivenessScore = c.state.Score.Score

	if !c.HasReference() {
		c.finish(StatusCaptured, nil, capture, nil)
		return true
	}

	decision := c.matchFaces(ctx, image)
	if c.interrupted(ctx) {
		c.finish(StatusCancelled, nil, nil, nil)
		return true
	}

	switch {
	case decision.Outcome == facematch.Mismatch:
		f := NewFailure(ReasonFaceMismatch)
		f.Details["match_reason"] = decision.Reason
		if decision.SimilarityPercent != nil {
			f.Details["similarity"] = *decision.SimilarityPercent
		}
		c.log.Warnf("Face mismatch: %s", decision.Reason)
		c.finish(StatusFailed, f, capture, &decision)
	case decision.Outcome == facematch.Inconclusive && c.cfg.RejectInconclusive:
		f := NewFailure(ReasonFaceInconclusive)
		f.Details["match_reason"] = decision.Reason
		c.finish(StatusFailed, f, capture, &decision)
	default:
		c.finish(StatusCaptured, nil, capture, &decision)
	}
	return true
}

// freshObservation reads the next observation, polling a source that has
// no new frame yet for up to the configured re-validation wait.
func (c *Controller) freshObservation(ctx context.Context) (*observation.Observation, error) {
	obs, err := c.deps.Source.Next(ctx)
	if !errors.Is(err, observation.ErrNoFrame) || c.cfg.RevalidationWait <= 0 {
		return obs, err
	}

	deadline := time.NewTimer(c.cfg.RevalidationWait)
	defer deadline.Stop()
	poll := time.NewTicker(revalidationPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, err
		case <-poll.C:
		}
		obs, err = c.deps.Source.Next(ctx)
		if !errors.Is(err, observation.ErrNoFrame) {
			return obs, err
		}
	}
}

func (c *Controller) verifyLiveness(ctx context.Context, image []byte) (*verifier.LivenessResult, error) {
	if c.deps.Liveness == nil {
		return nil, verifier.ErrUnavailable
	}
	res, err := c.deps.Liveness.VerifyLiveness(ctx, verifier.LivenessRequest{
		Image:           image,
		LivenessScore:   c.state.Score.Score,
		GestureDetected: c.state.Gesture.Changed || c.state.Gesture.Complete,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty liveness response")
	}
	return res, nil
}

func (c *Controller) matchFaces(ctx context.Context, image []byte) facematch.Decision {
	var distance *float64
	if c.deps.Embeddings != nil {
		d, err := c.deps.Embeddings.Distance(c.reference, image)
		if err != nil {
			c.log.WithError(err).Warn("Local face comparison unavailable")
		} else {
			distance = d
		}
	}

	var remote *facematch.Remote
	if c.deps.Comparer != nil {
		res, err := c.deps.Comparer.CompareFaces(ctx, verifier.CompareRequest{Reference: c.reference, Candidate: image})
		switch {
		case err != nil:
			c.log.WithError(err).Warn("Remote face comparison unavailable")
		case res != nil:
			remote = &facematch.Remote{Match: res.IsMatch, Confidence: res.Confidence, Reason: res.Reason}
		}
	}

	d := facematch.Decide(distance, remote, c.cfg.Match)
	c.log.WithFields(logrus.Fields{
		"outcome": d.Outcome,
		"rule":    d.Rule,
	}).Info("Face match decided")
	return d
}

// finish moves the session to a terminal status. Only called from a tick.
func (c *Controller) finish(status Status, failure *Failure, capture *CaptureResult, match *facematch.Decision) {
	c.state.Status = status
	c.state.Failure = failure

	res := &Result{
		SessionID:    c.id,
		Status:       status,
		Failure:      failure,
		Capture:      capture,
		FaceMatch:    match,
		Ticks:        c.state.Ticks,
		SkippedTicks: int(c.skipped.Load()),
		StartedAt:    c.startedAt,
		FinishedAt:   c.now(),
	}

	c.mu.Lock()
	c.result = res
	c.report.Status = status
	c.mu.Unlock()
	close(c.done)

	entry := c.log.WithField("status", status)
	if failure != nil {
		entry = entry.WithField("reason", failure.Reason)
	}
	entry.Info("Session ended")
}

// publish fills r from the current state and makes it the latest report.
func (c *Controller) publish(r Report) Report {
	st := &c.state
	r.Tick = st.Ticks
	r.Score = st.Score.Score
	r.CenteredFrames = st.CenteredFrames
	r.GestureComplete = st.Gesture.Complete
	r.Gestures = st.Gesture.LabelStatus(c.cfg.Gesture)
	r.SpoofSuspected = st.Motion.SpoofSuspected
	r.Status = st.Status
	if r.Guidance == "" {
		r.Guidance = GuidanceNoFace
	}
	r.Message = c.message(r.Guidance)

	c.mu.Lock()
	c.report = r
	c.mu.Unlock()

	r.Gestures = copyLabels(r.Gestures)
	return r
}

func (c *Controller) message(g Guidance) string {
	if g != GuidanceGestureIncomplete {
		return GetGuidanceMessage(g)
	}
	if remaining := c.state.Gesture.Remaining(c.cfg.Gesture); len(remaining) > 0 {
		return fmt.Sprintf("Show a %s expression", remaining[0])
	}
	return "Blink naturally"
}

func copyLabels(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
