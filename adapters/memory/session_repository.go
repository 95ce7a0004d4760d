package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
)

// SessionRepository is an in-memory implementation of SessionRepository.
// Records live as long as the process; it suits single-node deployments and tests.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]entities.Session
	now      func() time.Time
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]entities.Session),
		now:      time.Now,
	}
}

// Save implements repositories.SessionRepository
func (m *SessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Store a copy so callers cannot mutate the stored record
	m.sessions[session.ID] = *session
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}
	return &session, nil
}

// Delete implements repositories.SessionRepository
func (m *SessionRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; !exists {
		return repositories.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// ExpireSessions removes records past their expiration
func (m *SessionRepository) ExpireSessions(ctx context.Context) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
	return nil
}

// Len returns the number of stored records
func (m *SessionRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
