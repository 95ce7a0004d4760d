package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
)

// ErrSessionNotFound is returned for ids the registry does not hold.
var ErrSessionNotFound = errors.New("session not found")

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry owns every live session. Sessions are spread over lock-striped
// shards so attaches on unrelated sessions do not contend.
type Registry struct {
	ctx    context.Context
	env    *Env
	shards []*shard
	logger *zap.Logger
}

// NewRegistry creates an empty registry. Session workers derive from ctx.
func NewRegistry(ctx context.Context, env Env) *Registry {
	e := env.withDefaults()
	r := &Registry{
		ctx:    ctx,
		env:    e,
		shards: make([]*shard, e.Config.Shards),
		logger: e.Logger.With(zap.String("component", "registry")),
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Get returns the in-memory session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Ensure returns the session for id. A session missing from memory is restored
// from the store under the same id; an empty or unknown id gets a fresh one.
func (r *Registry) Ensure(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s, nil
		}
	}

	prefs := r.env.Defaults
	createdAt := r.env.Now()
	restored := false

	if id != "" && r.env.Store != nil {
		record, err := r.env.Store.GetByID(ctx, id)
		switch {
		case err == nil && !record.ExpiredAt(r.env.Now()):
			prefs = record.Preferences
			createdAt = record.CreatedAt
			restored = true
		case err == nil, errors.Is(err, repositories.ErrSessionNotFound):
		default:
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}
	if !restored {
		id = uuid.NewString()
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	if s, ok := sh.sessions[id]; ok {
		sh.mu.Unlock()
		return s, nil
	}
	s := newSession(id, prefs, createdAt, r.env, r)
	sh.sessions[id] = s
	sh.mu.Unlock()

	r.env.Metrics.SessionCreated()
	r.logger.Info("Session created",
		zap.String("sessionID", id),
		zap.Bool("restored", restored))

	if !restored {
		if err := r.save(ctx, s); err != nil {
			r.logger.Warn("Failed to persist new session", zap.String("sessionID", id), zap.Error(err))
		}
	}
	return s, nil
}

// Connect attaches conn to channel ch of the session, creating or restoring it
// first. A previous connection on the same slot is evicted and closed. Workers
// start with the first connection.
func (r *Registry) Connect(ctx context.Context, sessionID string, ch entities.ChannelNo, conn Conn) (*Session, error) {
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %d", entities.ErrInvalidChannel, int(ch))
	}

	var (
		s   *Session
		old Conn
	)
	for {
		var err error
		s, err = r.Ensure(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		s.lifeMu.Lock()
		if s.closed {
			// Closed after lookup; Ensure restores it under the same id.
			s.lifeMu.Unlock()
			sessionID = s.id
			continue
		}
		old = s.attach(ch, conn)
		s.touch()
		s.StartWorkers(r.ctx)
		s.lifeMu.Unlock()
		break
	}

	if old != nil && old != conn {
		r.logger.Info("Evicting previous connection",
			zap.String("sessionID", s.id),
			zap.Stringer("channel", ch))
		if err := old.Close(); err != nil {
			r.logger.Debug("Failed to close evicted connection", zap.Error(err))
		}
	} else {
		r.env.Metrics.ConnectionAttached(ch.String())
	}

	r.logger.Info("Connection attached",
		zap.String("sessionID", s.id),
		zap.Stringer("channel", ch),
		zap.Int("connections", s.ConnectionCount()))

	s.sendInfo(ch, domain.KindWelcomeInfo)
	if ch != entities.ChannelControl {
		s.notifyUpdate()
	}
	return s, nil
}

// Disconnect detaches conn from ch. It is a no-op when the slot holds a newer
// connection. Preferences are saved on every disconnect and workers stop with
// the last connection; the session itself stays in memory.
func (r *Registry) Disconnect(ctx context.Context, sessionID string, ch entities.ChannelNo, conn Conn) {
	s, ok := r.Get(sessionID)
	if !ok || !ch.Valid() {
		return
	}

	s.lifeMu.Lock()
	if !s.detach(ch, conn) {
		s.lifeMu.Unlock()
		return
	}
	remaining := s.ConnectionCount()
	if remaining == 0 {
		s.StopWorkers()
	}
	s.lifeMu.Unlock()

	r.env.Metrics.ConnectionDetached(ch.String())
	r.logger.Info("Connection detached",
		zap.String("sessionID", sessionID),
		zap.Stringer("channel", ch),
		zap.Int("connections", remaining))

	if err := r.save(ctx, s); err != nil {
		r.logger.Warn("Failed to persist session", zap.String("sessionID", sessionID), zap.Error(err))
	}
	if remaining > 0 {
		s.notifyUpdate()
	}
}

// UpdatePreferences replaces the preferences of a held session and persists them.
func (r *Registry) UpdatePreferences(ctx context.Context, sessionID string, prefs entities.Preferences) (*Session, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.SetPreferences(prefs)
	if err := r.save(ctx, s); err != nil {
		return s, err
	}
	s.notifyUpdate()
	return s, nil
}

// Close tears a session down: workers stop, connections close, preferences are
// saved and the session leaves memory.
func (r *Registry) Close(ctx context.Context, sessionID string) error {
	_, err := r.closeUnless(ctx, sessionID, nil)
	return err
}

// closeUnless closes the session unless keep, evaluated under the session's
// lifecycle lock, says otherwise. It reports whether the session was closed.
func (r *Registry) closeUnless(ctx context.Context, sessionID string, keep func(*Session) bool) (bool, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}

	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return false, ErrSessionNotFound
	}
	if keep != nil && keep(s) {
		s.lifeMu.Unlock()
		return false, nil
	}
	s.closed = true
	s.StopWorkers()
	conns := s.detachAll()
	err := r.save(ctx, s)

	sh := r.shardFor(sessionID)
	sh.mu.Lock()
	if sh.sessions[sessionID] == s {
		delete(sh.sessions, sessionID)
	}
	sh.mu.Unlock()
	s.lifeMu.Unlock()

	for _, c := range conns {
		if cerr := c.Close(); cerr != nil {
			r.logger.Debug("Failed to close connection", zap.Error(cerr))
		}
	}

	r.env.Metrics.SessionClosed()
	r.logger.Info("Session closed", zap.String("sessionID", sessionID))
	return true, err
}

// Sweep closes sessions that have no connection, are not marked keep-alive and
// were idle longer than idle. It returns how many were closed.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) int {
	now := r.env.Now()
	busy := func(s *Session) bool {
		return s.ConnectionCount() > 0 || s.Preferences().KeepAlive || now.Sub(s.LastActive()) <= idle
	}

	var stale []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, s := range sh.sessions {
			if !busy(s) {
				stale = append(stale, id)
			}
		}
		sh.mu.RUnlock()
	}

	// A session may gain a connection between the scan and its close, so the
	// check is repeated under its lifecycle lock.
	closed := 0
	for _, id := range stale {
		ok, err := r.closeUnless(ctx, id, busy)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("Failed to close idle session", zap.String("sessionID", id), zap.Error(err))
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		r.logger.Info("Idle sessions swept", zap.Int("closed", closed))
	}
	return closed
}

// Shutdown closes every session.
func (r *Registry) Shutdown(ctx context.Context) {
	var ids []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id := range sh.sessions {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("Failed to close session on shutdown", zap.String("sessionID", id), zap.Error(err))
		}
	}
}

func (r *Registry) save(ctx context.Context, s *Session) error {
	if r.env.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.env.Config.PersistTimeout)
	defer cancel()

	record := entities.NewSession(s.id, s.Preferences())
	record.CreatedAt = s.createdAt
	record.LastActiveAt = s.LastActive()
	record.ExpiresAt = record.LastActiveAt.Add(entities.DefaultSessionTTL)

	if err := r.env.Store.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
