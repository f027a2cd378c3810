package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

// ErrTooManySessions is returned when the running-session limit is reached.
var ErrTooManySessions = errors.New("too many running sessions")

// RecordStore persists finished sessions.
type RecordStore interface {
	Save(rec storage.SessionRecord) error
	Load(id string) (*storage.SessionRecord, error)
}

// Session is one live session: its controller and the mailbox the API
// pushes observations into.
type Session struct {
	ID        string
	Mode      string
	CreatedAt time.Time

	ctrl    *session.Controller
	mailbox *observation.Mailbox
	done    chan struct{}
}

// Controller returns the session controller.
func (s *Session) Controller() *session.Controller {
	return s.ctrl
}

// Push hands an observation to the session. It returns false once the
// session no longer accepts observations.
func (s *Session) Push(obs *observation.Observation) bool {
	return s.mailbox.Put(obs)
}

// Wait blocks until the session's run loop returned and its record was saved.
func (s *Session) Wait() {
	<-s.done
}

// Manager tracks running and recently finished sessions.
type Manager struct {
	store       RecordStore
	maxSessions int
	retention   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	running  int
	wg       sync.WaitGroup
}

// NewManager creates a manager. Finished sessions stay in memory for
// retention before only their stored record remains.
func NewManager(store RecordStore, maxSessions int, retention time.Duration) *Manager {
	return &Manager{
		store:       store,
		maxSessions: maxSessions,
		retention:   retention,
		sessions:    make(map[string]*Session),
	}
}

// Start creates a controller fed by a fresh mailbox and runs it in its own
// goroutine until it ends or ctx is cancelled.
func (m *Manager) Start(ctx context.Context, cfg session.Config, deps session.Deps, reference []byte) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && m.running >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	mailbox := observation.NewMailbox()
	deps.Source = mailbox
	ctrl, err := session.New(cfg, deps, reference)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        ctrl.ID(),
		Mode:      string(cfg.Gesture.Kind),
		CreatedAt: time.Now(),
		ctrl:      ctrl,
		mailbox:   mailbox,
		done:      make(chan struct{}),
	}
	m.sessions[s.ID] = s
	m.running++
	m.wg.Add(1)

	go m.run(ctx, s)

	log.WithField("session_id", s.ID).Info("Session registered")
	return s, nil
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer m.wg.Done()
	defer close(s.done)

	res := s.ctrl.Run(ctx)
	s.mailbox.Close()

	m.mu.Lock()
	m.running--
	m.mu.Unlock()

	if res != nil && m.store != nil {
		rec := storage.NewRecord(res, s.Mode)
		rec.Metadata = map[string]string{"source": "api"}
		if err := m.store.Save(rec); err != nil {
			log.WithError(err).WithField("session_id", s.ID).Warn("Failed to save session record")
		}
	}

	if m.retention > 0 {
		time.AfterFunc(m.retention, func() { m.remove(s.ID) })
	}
}

// Get returns a session that is running or recently finished.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Record returns the stored record of a finished session.
func (m *Manager) Record(id string) (*storage.SessionRecord, error) {
	if m.store == nil {
		return nil, storage.ErrRecordNotFound
	}
	return m.store.Load(id)
}

// Running returns the number of sessions still running.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Shutdown cancels every running session and waits for their loops to end
// or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, s := range m.sessions {
		s.ctrl.Cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
