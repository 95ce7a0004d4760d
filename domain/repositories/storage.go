package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/kanal/server/domain/entities"
)

// ErrSessionNotFound is returned when no persisted record exists for an id
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists session records and their preferences
type SessionRepository interface {
	// Save inserts or replaces the record
	Save(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	Delete(ctx context.Context, id string) error
	// ExpireSessions marks or removes records past their expiration
	ExpireSessions(ctx context.Context) error
}

// FileStore keeps uploaded attachments for the short hand-off window
type FileStore interface {
	Save(ctx context.Context, sessionID, name string, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}
