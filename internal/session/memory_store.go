package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// A single mutex guards both maps so the terminate cascade observes the
// same all-or-nothing behavior as the Postgres transaction.
type MemoryStore struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	applications map[string]*Application
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*Session),
		applications: make(map[string]*Application),
	}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *sess
	s.sessions[sess.ID] = &c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := *sess
	return &c, nil
}

func (s *MemoryStore) AddWarnings(ctx context.Context, id string, delta int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, false, ErrSessionNotFound
	}
	if sess.Status != StatusInProgress {
		return sess.WarningCount, false, nil
	}
	sess.WarningCount += delta
	return sess.WarningCount, true, nil
}

func (s *MemoryStore) Terminate(ctx context.Context, id, reason string, endTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if sess.Status != StatusInProgress {
		return false, nil
	}

	sess.Status = StatusTerminated
	sess.TerminatedReason = reason
	t := endTime
	sess.EndTime = &t

	if app, ok := s.applications[sess.ApplicationID]; ok {
		app.Status = ApplicationRejected
	}
	return true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, endTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if sess.Status != StatusInProgress {
		return false, nil
	}

	sess.Status = StatusCompleted
	t := endTime
	sess.EndTime = &t
	return true, nil
}

func (s *MemoryStore) CreateApplication(ctx context.Context, a *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *a
	s.applications[a.ID] = &c
	return nil
}

func (s *MemoryStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	c := *app
	return &c, nil
}
