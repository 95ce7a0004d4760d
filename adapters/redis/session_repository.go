package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
)

const (
	keyPrefix  = "kanal:session:"
	defaultTTL = 7 * 24 * time.Hour
	scanBatch  = 100
)

// Config configures the redis connection
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a record survives without a save
	TTL time.Duration
}

// NewClient connects to redis and verifies the connection
func NewClient(ctx context.Context, config Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SessionRepository stores session records as JSON values with a TTL
type SessionRepository struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewSessionRepository creates a new redis session repository
func NewSessionRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionRepository {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SessionRepository{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "redis-sessions")),
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Save inserts or replaces the record and refreshes its TTL
func (r *SessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, key(session.ID), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save session", zap.String("sessionID", session.ID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repositories.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session entities.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}

// ExpireSessions marks active records past their expiration time. Removal is
// left to the key TTL.
func (r *SessionRepository) ExpireSessions(ctx context.Context) error {
	now := r.now()
	expired := 0

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := r.client.Get(ctx, k).Bytes()
		if err != nil {
			// Key vanished between scan and read.
			continue
		}
		var session entities.Session
		if err := json.Unmarshal(data, &session); err != nil {
			r.logger.Warn("Skipping undecodable session", zap.String("key", k), zap.Error(err))
			continue
		}
		if session.Status != entities.SessionStatusActive || !session.ExpiredAt(now) {
			continue
		}

		session.Status = entities.SessionStatusExpired
		out, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		if err := r.client.SetArgs(ctx, k, out, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to expire session: %w", err)
		}
		expired++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}

	if expired > 0 {
		r.logger.Info("Expired sessions", zap.Int("count", expired))
	}
	return nil
}
