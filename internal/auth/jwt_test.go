package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSessionToken(t *testing.T) {
	issuer := NewIssuer([]byte("0123456789abcdef"), time.Hour)

	token, expiresAt, err := issuer.GenerateSessionToken("session-1")
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("Expected expiry in the future, got %v", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.SessionID != "session-1" {
		t.Errorf("Expected session ID session-1, got %s", claims.SessionID)
	}
	if claims.Role != RoleSession {
		t.Errorf("Expected role %s, got %s", RoleSession, claims.Role)
	}

	if err := issuer.Authorize("session-1", token); err != nil {
		t.Errorf("Authorize failed: %v", err)
	}
	if err := issuer.Authorize("session-2", token); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("Expected ErrSessionMismatch, got %v", err)
	}
	if err := issuer.Authorize("session-1", ""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestTokenRejectedWithOtherSecret(t *testing.T) {
	token, _, err := NewIssuer([]byte("0123456789abcdef"), time.Hour).GenerateSessionToken("s")
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	other := NewIssuer([]byte("fedcba9876543210"), time.Hour)
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	issuer := NewIssuer([]byte("0123456789abcdef"), time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := issuer.GenerateSessionToken("s")
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	issuer.now = time.Now
	if _, err := issuer.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Errorf("Expected empty token, got %q", got)
	}
}
