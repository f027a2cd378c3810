// Package facematch fuses a local embedding distance and a remote AI
// judgment into a single face-match decision.
package facematch

import (
	"fmt"
	"math"
)

// Outcome is the result of a face-match decision.
type Outcome string

const (
	Match        Outcome = "match"
	Mismatch     Outcome = "mismatch"
	Inconclusive Outcome = "inconclusive"
)

// Reason strings for decisions without a remote explanation.
const (
	ReasonNoFace       = "no face detected"
	ReasonMismatch     = "faces do not match"
	ReasonInconclusive = "match signals disagree"
)

// Rule identifies which fusion rule produced a decision.
type Rule string

const (
	RuleNoFace           Rule = "no_face"
	RuleRemoteConfident  Rule = "remote_confident_match"
	RuleRemoteSupported  Rule = "remote_supported_match"
	RuleLocalClose       Rule = "local_close_match"
	RuleLocalFallback    Rule = "local_fallback_match"
	RuleRemoteReject     Rule = "remote_confident_mismatch"
	RuleCombinedReject   Rule = "combined_mismatch"
	RuleLocalFar         Rule = "local_far_mismatch"
	RuleLocalFallbackFar Rule = "local_fallback_mismatch"
	RuleNoAgreement      Rule = "no_agreement"
)

// Thresholds holds the distance and confidence cut-offs for fusion.
type Thresholds struct {
	StrongDistance   float64 // below: match unless remote disagrees
	FallbackDistance float64 // below: match when remote is unavailable
	WeakDistance     float64 // at or above: counts against a match
	RejectDistance   float64 // at or above: mismatch unless remote matches

	RemoteMatchConfidence      int
	RemoteWeakMatchConfidence  int
	RemoteRejectConfidence     int
	RemoteWeakRejectConfidence int
}

// DefaultThresholds returns the standard fusion thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongDistance:             0.60,
		FallbackDistance:           0.70,
		WeakDistance:               0.75,
		RejectDistance:             0.80,
		RemoteMatchConfidence:      60,
		RemoteWeakMatchConfidence:  40,
		RemoteRejectConfidence:     70,
		RemoteWeakRejectConfidence: 50,
	}
}

// Remote is the remote verifier's face-compare judgment. Any field may be nil.
type Remote struct {
	Match      *bool  `json:"match,omitempty"`
	Confidence *int   `json:"confidence,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// usable reports whether r carries a match judgment.
func (r *Remote) usable() bool {
	return r != nil && r.Match != nil
}

func (r *Remote) confidence() int {
	if r == nil || r.Confidence == nil {
		return 0
	}
	return *r.Confidence
}

// Decision is an immutable face-match verdict.
type Decision struct {
	Outcome           Outcome `json:"outcome"`
	SimilarityPercent *int    `json:"similarity_percent,omitempty"`
	Reason            string  `json:"reason"`
	Rule              Rule    `json:"rule"`
}

// Similarity converts an embedding distance to a percentage in [0,100].
func Similarity(distance float64) int {
	s := math.Round((1 - distance) * 100)
	return int(math.Max(0, math.Min(100, s)))
}

// Decide applies the fusion rules in priority order. distance is nil when
// either image had no detectable face; remote is nil or has a nil Match
// when the remote signal is unavailable.
func Decide(distance *float64, remote *Remote, t Thresholds) Decision {
	d := Decision{}
	if distance != nil {
		s := Similarity(*distance)
		d.SimilarityPercent = &s
	}

	hasRemote := remote.usable()
	remoteMatch := hasRemote && *remote.Match
	remoteReject := hasRemote && !*remote.Match
	conf := remote.confidence()

	hasDist := distance != nil
	var dist float64
	if hasDist {
		dist = *distance
	}

	decide := func(o Outcome, rule Rule, reason string) Decision {
		d.Outcome, d.Rule, d.Reason = o, rule, reason
		return d
	}

	switch {
	case !hasDist && !hasRemote:
		return decide(Mismatch, RuleNoFace, ReasonNoFace)

	case remoteMatch && conf >= t.RemoteMatchConfidence:
		return decide(Match, RuleRemoteConfident, remoteReason(remote, "remote verifier confirmed match"))

	case remoteMatch && conf >= t.RemoteWeakMatchConfidence && (!hasDist || dist < t.WeakDistance):
		return decide(Match, RuleRemoteSupported, remoteReason(remote, "remote match supported by local distance"))

	case hasDist && dist < t.StrongDistance && (remoteMatch || !hasRemote):
		return decide(Match, RuleLocalClose, fmt.Sprintf("local distance %.2f", dist))

	case hasDist && dist < t.FallbackDistance && !hasRemote:
		return decide(Match, RuleLocalFallback, fmt.Sprintf("local distance %.2f, remote unavailable", dist))

	case remoteReject && conf >= t.RemoteRejectConfidence:
		return decide(Mismatch, RuleRemoteReject, remoteReason(remote, ReasonMismatch))

	case remoteReject && conf >= t.RemoteWeakRejectConfidence && hasDist && dist >= t.WeakDistance:
		return decide(Mismatch, RuleCombinedReject,
			fmt.Sprintf("remote rejected match (confidence %d) and local distance %.2f", conf, dist))

	case hasDist && dist >= t.RejectDistance && !remoteMatch:
		return decide(Mismatch, RuleLocalFar, fmt.Sprintf("local distance %.2f", dist))

	case !hasRemote && hasDist && dist >= t.WeakDistance:
		return decide(Mismatch, RuleLocalFallbackFar, fmt.Sprintf("local distance %.2f, remote unavailable", dist))
	}

	return decide(Inconclusive, RuleNoAgreement, ReasonInconclusive)
}

func remoteReason(r *Remote, fallback string) string {
	if r != nil && r.Reason != "" {
		return r.Reason
	}
	return fallback
}
