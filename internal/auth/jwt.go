package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleSession is the only role the hub issues.
const RoleSession = "session"

var (
	ErrMissingToken    = errors.New("token is required")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrSessionMismatch = errors.New("token does not belong to this session")
)

// JWTClaims represents the claims in a session token
type JWTClaims struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and checks session resume tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an HS256 issuer.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// GenerateSessionToken issues a token bound to sessionID
func (i *Issuer) GenerateSessionToken(sessionID string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		SessionID: sessionID,
		Role:      RoleSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Role != RoleSession {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize checks that token grants access to sessionID.
func (i *Issuer) Authorize(sessionID, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	claims, err := i.ValidateToken(token)
	if err != nil {
		return err
	}
	if claims.SessionID != sessionID {
		return ErrSessionMismatch
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
