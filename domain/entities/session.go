package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the status of a persisted session record
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// DefaultSessionTTL is how long a record survives after its last activity.
const DefaultSessionTTL = 24 * time.Hour

// Preferences holds the per-session provider and model selection that is reused across reconnects.
type Preferences struct {
	ChatProvider string `json:"chat_provider" bson:"chat_provider" yaml:"chat_provider"`
	ChatModel    string `json:"chat_model,omitempty" bson:"chat_model,omitempty" yaml:"chat_model"`
	AgentBackend string `json:"agent_backend" bson:"agent_backend" yaml:"agent_backend"`
	AgentModel   string `json:"agent_model,omitempty" bson:"agent_model,omitempty" yaml:"agent_model"`
	LiveEnabled  bool   `json:"live_enabled" bson:"live_enabled" yaml:"live_enabled"`
	LiveProvider string `json:"live_provider" bson:"live_provider" yaml:"live_provider"`
	LiveModel    string `json:"live_model,omitempty" bson:"live_model,omitempty" yaml:"live_model"`
	LiveVoice    string `json:"live_voice,omitempty" bson:"live_voice,omitempty" yaml:"live_voice"`
	Instructions string `json:"instructions,omitempty" bson:"instructions,omitempty" yaml:"instructions"`
	Language     string `json:"language" bson:"language" yaml:"language"`
	KeepAlive    bool   `json:"keep_alive" bson:"keep_alive" yaml:"keep_alive"`
}

// LiveSettingsEqual reports whether the fields that shape a live backend connection match.
func (p Preferences) LiveSettingsEqual(o Preferences) bool {
	return p.LiveEnabled == o.LiveEnabled &&
		p.LiveProvider == o.LiveProvider &&
		p.LiveModel == o.LiveModel &&
		p.LiveVoice == o.LiveVoice &&
		p.Instructions == o.Instructions &&
		p.Language == o.Language
}

// Session is the persisted record of a logical session: its identity and preferences.
type Session struct {
	ID           string        `json:"id" bson:"_id"`
	Preferences  Preferences   `json:"preferences" bson:"preferences"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt    time.Time     `json:"expires_at" bson:"expires_at"`
	Status       SessionStatus `json:"status" bson:"status"`
}

// NewSession creates a new active session record
func NewSession(id string, prefs Preferences) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Preferences:  prefs,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(DefaultSessionTTL),
		Status:       SessionStatusActive,
	}
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(DefaultSessionTTL)
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return s.ExpiredAt(time.Now())
}

// ExpiredAt checks expiry against the given time
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.Status = SessionStatusTerminated
	s.UpdateLastActive()
}

// Expire marks the session as expired
func (s *Session) Expire() {
	s.Status = SessionStatusExpired
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusExpired && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
