package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
)

// expiredRetention is how long an expired record is kept before the TTL index removes it.
const expiredRetention = 7 * 24 * time.Hour

// SessionRepository implements repositories.SessionRepository using MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	now        func() time.Time
	logger     *zap.Logger
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection("sessions"),
		now:        time.Now,
		logger:     logger.With(zap.String("component", "mongo-sessions")),
	}
}

// EnsureIndexes creates the lookup and TTL indexes
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Index on status and expires_at for cleanup operations
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "expires_at", Value: 1},
			},
		},
		{
			// TTL index removes records a while after they expire
			Keys:    bson.D{{Key: "last_active_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32((entities.DefaultSessionTTL + expiredRetention).Seconds())),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	r.logger.Info("Session indexes created successfully")
	return nil
}

// Save inserts or replaces the record
func (r *SessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": session.ID},
		session,
		options.Replace().SetUpsert(true))
	if err != nil {
		r.logger.Error("Failed to save session", zap.Error(err), zap.String("sessionID", session.ID))
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved", zap.String("sessionID", session.ID))
	return nil
}

// GetByID retrieves a session by its ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	var session entities.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		r.logger.Error("Failed to get session by ID", zap.Error(err), zap.String("sessionID", id))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		r.logger.Error("Failed to delete session", zap.Error(err), zap.String("sessionID", id))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrSessionNotFound
	}

	r.logger.Info("Session deleted", zap.String("sessionID", id))
	return nil
}

// ExpireSessions marks sessions past their expiration time
func (r *SessionRepository) ExpireSessions(ctx context.Context) error {
	filter := bson.M{
		"status":     entities.SessionStatusActive,
		"expires_at": bson.M{"$lt": r.now()},
	}
	update := bson.M{
		"$set": bson.M{
			"status": entities.SessionStatusExpired,
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire sessions", zap.Error(err))
		return fmt.Errorf("failed to expire sessions: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired sessions", zap.Int64("count", result.ModifiedCount))
	}
	return nil
}
