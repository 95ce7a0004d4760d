package api

import (
	"time"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
)

// EnsureSessionRequest is the optional body of POST /api/v1/sessions
type EnsureSessionRequest struct {
	SessionID string `json:"session_id"`
}

// EnsureSessionResponse represents the response payload of POST /api/v1/sessions
type EnsureSessionResponse struct {
	SessionID   string               `json:"session_id"`
	Token       string               `json:"token,omitempty"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	Preferences entities.Preferences `json:"preferences"`
}

// SessionInfoResponse describes a held session
type SessionInfoResponse struct {
	domain.Info
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
