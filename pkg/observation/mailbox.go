package observation

import (
	"context"
	"sync"
)

// Mailbox is a single-slot source fed by an external producer.
// Put replaces any observation not yet consumed, so a slow consumer
// always sees the newest frame and never a backlog.
type Mailbox struct {
	mu      sync.Mutex
	pending *Observation
	has     bool
	closed  bool
	dropped int
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Put stores obs (nil meaning "no face") as the newest observation.
// It returns false once the mailbox is closed.
func (m *Mailbox) Put(obs *Observation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.has {
		m.dropped++
	}
	m.pending = obs
	m.has = true
	return true
}

// Next consumes the pending observation. An empty mailbox returns
// ErrNoFrame; a closed one returns ErrExhausted.
func (m *Mailbox) Next(ctx context.Context) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrExhausted
	}
	if !m.has {
		return nil, ErrNoFrame
	}
	obs := m.pending
	m.pending = nil
	m.has = false
	return obs, nil
}

// Pending reports whether an observation is waiting to be read.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.has
}

// Dropped returns how many observations were overwritten before being read.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close stops the mailbox from accepting observations.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pending = nil
	m.has = false
}
