package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/audio"
	"github.com/satriahrh/kanal/server/internal/live"
	"github.com/satriahrh/kanal/server/internal/metrics"
	"github.com/satriahrh/kanal/server/internal/tools"
)

// Conn is one attached client connection.
type Conn interface {
	Send(msg domain.Message) error
	Close() error
	Connected() bool
}

// Handler processes one dispatched request for a channel. Handlers for the
// same channel never run concurrently.
type Handler interface {
	Handle(ctx context.Context, sess *Session, msg domain.Message) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, sess *Session, msg domain.Message) error

func (f HandlerFunc) Handle(ctx context.Context, sess *Session, msg domain.Message) error {
	return f(ctx, sess, msg)
}

// Handlers binds request handlers to channel roles.
type Handlers struct {
	// Chat serves channel 0 while no live session is active.
	Chat Handler
	// Agent serves channels 1..4.
	Agent Handler
}

// Env holds what every session shares.
type Env struct {
	Config   Config
	Audio    audio.Config
	Live     live.Config
	Handlers Handlers

	Realtime   *repositories.Registry[repositories.RealtimeBackend]
	Tools      *tools.Registry
	Recognizer repositories.SpeechToText
	Files      repositories.FileStore
	Store      repositories.SessionRepository

	// Defaults seed sessions that have no stored preferences.
	Defaults entities.Preferences

	Metrics *metrics.Collector
	Logger  *zap.Logger
	Now     func() time.Time
}

func (e *Env) withDefaults() *Env {
	out := *e
	out.Config = e.Config.WithDefaults()
	out.Audio = e.Audio.WithDefaults()
	out.Live = e.Live.WithDefaults()
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Tools == nil {
		out.Tools = tools.NewRegistry(out.Logger)
	}
	return &out
}
