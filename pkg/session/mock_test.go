package session

import (
	"context"
	"sync"

	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// MockSource implements observation.Source for testing
type MockSource struct {
	NextFunc func(ctx context.Context) (*observation.Observation, error)
}

func (m *MockSource) Next(ctx context.Context) (*observation.Observation, error) {
	if m.NextFunc != nil {
		return m.NextFunc(ctx)
	}
	return nil, nil
}

// sliceSource plays obs in order, then reports exhaustion.
func sliceSource(obs ...*observation.Observation) *MockSource {
	var mu sync.Mutex
	i := 0
	return &MockSource{
		NextFunc: func(ctx context.Context) (*observation.Observation, error) {
			mu.Lock()
			defer mu.Unlock()
			if i >= len(obs) {
				return nil, observation.ErrExhausted
			}
			o := obs[i]
			i++
			return o, nil
		},
	}
}

// MockLivenessVerifier implements LivenessVerifier for testing
type MockLivenessVerifier struct {
	VerifyLivenessFunc func(ctx context.Context, req verifier.LivenessRequest) (*verifier.LivenessResult, error)

	mu    sync.Mutex
	calls []verifier.LivenessRequest
}

func (m *MockLivenessVerifier) VerifyLiveness(ctx context.Context, req verifier.LivenessRequest) (*verifier.LivenessResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.VerifyLivenessFunc != nil {
		return m.VerifyLivenessFunc(ctx, req)
	}
	return &verifier.LivenessResult{IsLive: true, Confidence: 90}, nil
}

func (m *MockLivenessVerifier) Calls() []verifier.LivenessRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]verifier.LivenessRequest(nil), m.calls...)
}

// MockFaceComparer implements FaceComparer for testing
type MockFaceComparer struct {
	CompareFacesFunc func(ctx context.Context, req verifier.CompareRequest) (*verifier.CompareResult, error)
}

func (m *MockFaceComparer) CompareFaces(ctx context.Context, req verifier.CompareRequest) (*verifier.CompareResult, error) {
	if m.CompareFacesFunc != nil {
		return m.CompareFacesFunc(ctx, req)
	}
	return nil, verifier.ErrUnavailable
}

// MockEmbeddingComparator implements EmbeddingComparator for testing
type MockEmbeddingComparator struct {
	DistanceFunc func(reference, candidate []byte) (*float64, error)
}

func (m *MockEmbeddingComparator) Distance(reference, candidate []byte) (*float64, error) {
	if m.DistanceFunc != nil {
		return m.DistanceFunc(reference, candidate)
	}
	return nil, nil
}

func remoteMatch(match bool, confidence int) func(context.Context, verifier.CompareRequest) (*verifier.CompareResult, error) {
	return func(context.Context, verifier.CompareRequest) (*verifier.CompareResult, error) {
		return &verifier.CompareResult{IsMatch: &match, Confidence: &confidence}, nil
	}
}

func fixedDistance(d float64) func(reference, candidate []byte) (*float64, error) {
	return func(reference, candidate []byte) (*float64, error) {
		return &d, nil
	}
}
