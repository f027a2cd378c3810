package server

import (
	"context"
	"sync"

	"github.com/MrCodeEU/facecheck/pkg/storage"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// MockLivenessVerifier implements session.LivenessVerifier for testing
type MockLivenessVerifier struct {
	VerifyLivenessFunc func(ctx context.Context, req verifier.LivenessRequest) (*verifier.LivenessResult, error)
}

func (m *MockLivenessVerifier) VerifyLiveness(ctx context.Context, req verifier.LivenessRequest) (*verifier.LivenessResult, error) {
	if m.VerifyLivenessFunc != nil {
		return m.VerifyLivenessFunc(ctx, req)
	}
	return &verifier.LivenessResult{IsLive: true, Confidence: 90}, nil
}

// MockRecordStore implements RecordStore in memory
type MockRecordStore struct {
	mu      sync.Mutex
	records map[string]storage.SessionRecord
	SaveErr error
}

func newMockRecordStore() *MockRecordStore {
	return &MockRecordStore{records: make(map[string]storage.SessionRecord)}
}

func (m *MockRecordStore) Save(rec storage.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MockRecordStore) Load(id string) (*storage.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return &rec, nil
}
