package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/session"
)

// SessionCleanupService closes idle sessions and expires stored records in the background
type SessionCleanupService struct {
	registry    *session.Registry
	sessionRepo repositories.SessionRepository
	interval    time.Duration
	idle        time.Duration
	logger      *zap.Logger

	pruner    FilePruner
	retention time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service. sessionRepo may be nil.
func NewSessionCleanupService(
	registry *session.Registry,
	sessionRepo repositories.SessionRepository,
	interval, idle time.Duration,
	logger *zap.Logger,
) *SessionCleanupService {
	return &SessionCleanupService{
		registry:    registry,
		sessionRepo: sessionRepo,
		interval:    interval,
		idle:        idle,
		logger:      logger.With(zap.String("component", "cleanup")),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// FilePruner removes stored attachments older than maxAge.
type FilePruner interface {
	Prune(maxAge time.Duration) (int, error)
}

// WithFilePruner makes every pass also drop attachments older than retention.
func (s *SessionCleanupService) WithFilePruner(p FilePruner, retention time.Duration) *SessionCleanupService {
	s.pruner = p
	s.retention = retention
	return s
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("idleRetention", s.idle))
}

// Stop stops the cleanup loop and waits for a running pass to finish
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			s.RunCleanup(ctx)
			cancel()
		}
	}
}

// RunCleanup performs one pass: idle sessions are closed, old attachments
// pruned, then stored records expired.
func (s *SessionCleanupService) RunCleanup(ctx context.Context) {
	closed := s.registry.Sweep(ctx, s.idle)

	if s.pruner != nil {
		if _, err := s.pruner.Prune(s.retention); err != nil {
			s.logger.Warn("Failed to prune files", zap.Error(err))
		}
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.ExpireSessions(ctx); err != nil {
			s.logger.Error("Failed to expire sessions", zap.Error(err))
			return
		}
	}

	s.logger.Debug("Session cleanup completed", zap.Int("closed", closed))
}
