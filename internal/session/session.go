package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/audio"
	"github.com/satriahrh/kanal/server/internal/live"
)

var (
	// ErrSessionInactive is returned when a request arrives while no worker is running.
	ErrSessionInactive = errors.New("session has no running workers")
	// ErrNotOutputChannel is returned when a request targets a channel that produces no output.
	ErrNotOutputChannel = errors.New("channel does not accept requests")
)

// LiveOff is reported as the live state when no live worker exists.
const LiveOff = "off"

// Session is the hub state for one session id: attached connections, one
// request queue per output channel, the audio pipeline and the live worker.
type Session struct {
	id     string
	env    *Env
	owner  *Registry
	logger *zap.Logger

	connMu sync.RWMutex
	conns  [entities.ChannelCount]Conn

	queues [entities.ChannelCount]*ChannelQueue

	prefsMu sync.RWMutex
	prefs   entities.Preferences

	createdAt  time.Time
	lastActive atomic.Int64

	files    *FileTracker
	errFlag  *ErrorFlag
	pipeline *audio.Pipeline

	// set on barge-in, cleared once the human side flushes
	outputPaused atomic.Bool

	// lifeMu serialises attach and detach with worker start and stop.
	lifeMu sync.Mutex
	closed bool // left the registry

	runMu     sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	audioDone chan struct{}
	live      *live.Worker

	turnMu   sync.Mutex
	turnText strings.Builder

	historyMu   sync.Mutex
	transcripts []domain.Transcript

	stateMu sync.Mutex
	state   [entities.ChannelCount]any
}

func newSession(id string, prefs entities.Preferences, createdAt time.Time, env *Env, owner *Registry) *Session {
	s := &Session{
		id:        id,
		env:       env,
		owner:     owner,
		logger:    env.Logger.With(zap.String("sessionID", id)),
		prefs:     prefs,
		createdAt: createdAt,
		files:     NewFileTracker(env.Config.FileRetention, env.Now),
		errFlag:   NewErrorFlag(env.Config.ErrorRearm, env.Now),
	}
	s.touch()

	for _, ch := range entities.AllChannels {
		if ch.IsOutput() {
			s.queues[ch.Index()] = NewChannelQueue(ch, s.runner(ch))
		}
	}

	s.pipeline = audio.NewPipeline(env.Audio, audio.Hooks{
		SpeechStarted: s.onSpeechStarted,
		Flushed:       s.onFlush,
	}, s.logger, audio.WithClock(env.Now))
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Preferences returns a copy of the current preferences.
func (s *Session) Preferences() entities.Preferences {
	s.prefsMu.RLock()
	defer s.prefsMu.RUnlock()
	return s.prefs
}

// CreatedAt returns when the session was first created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActive returns the time of the last inbound message or attach.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.env.Now().UnixNano())
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// attach stores conn on ch and returns the connection it replaced, if any.
func (s *Session) attach(ch entities.ChannelNo, conn Conn) Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	old := s.conns[ch.Index()]
	s.conns[ch.Index()] = conn
	return old
}

// detach clears ch if it still holds conn. A nil conn clears the slot unconditionally.
func (s *Session) detach(ch entities.ChannelNo, conn Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	cur := s.conns[ch.Index()]
	if cur == nil || (conn != nil && cur != conn) {
		return false
	}
	s.conns[ch.Index()] = nil
	return true
}

func (s *Session) detachAll() []Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	var out []Conn
	for i, c := range s.conns {
		if c != nil {
			out = append(out, c)
			s.conns[i] = nil
		}
	}
	return out
}

// ConnectionCount returns how many channels have a connection attached.
func (s *Session) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	n := 0
	for _, c := range s.conns {
		if c != nil {
			n++
		}
	}
	return n
}

// ConnectedChannels lists the channels with an attached connection.
func (s *Session) ConnectedChannels() []entities.ChannelNo {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	var out []entities.ChannelNo
	for _, ch := range entities.AllChannels {
		if s.conns[ch.Index()] != nil {
			out = append(out, ch)
		}
	}
	return out
}

// SendToChannel delivers msg on ch. A missing or closed connection drops the
// message; the hub never buffers output for absent clients.
func (s *Session) SendToChannel(ch entities.ChannelNo, msg domain.Message) {
	if !ch.Valid() {
		s.logger.Warn("Dropping message for invalid channel", zap.Int("channel", int(ch)))
		return
	}
	msg.SessionID = s.id
	msg.Channel = ch

	s.connMu.RLock()
	conn := s.conns[ch.Index()]
	s.connMu.RUnlock()

	if conn == nil || !conn.Connected() {
		s.logger.Debug("No connection on channel, message dropped",
			zap.Stringer("channel", ch),
			zap.String("kind", string(msg.Kind)))
		s.env.Metrics.FrameDropped(ch.String())
		return
	}

	if err := conn.Send(msg); err != nil {
		s.env.Metrics.FrameDropped(ch.String())
		s.fault("send", err, zap.Stringer("channel", ch))
		return
	}
	s.env.Metrics.Message(ch.String(), string(msg.Kind), "out")
}

// SendText is shorthand for a plain text message on ch.
func (s *Session) SendText(ch entities.ChannelNo, kind domain.Kind, text string) {
	s.SendToChannel(ch, domain.NewTextMessage(kind, ch, text))
}

// SendError reports a failure to the client on ch.
func (s *Session) SendError(ch entities.ChannelNo, code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	s.SendToChannel(ch, domain.NewErrorMessage(ch, code, message, details))
}

// fault logs a low-level failure at most once per re-arm interval.
func (s *Session) fault(op string, err error, fields ...zap.Field) {
	ok, suppressed := s.errFlag.Raise()
	if !ok {
		return
	}
	fields = append(fields,
		zap.String("op", op),
		zap.Int64("suppressed", suppressed),
		zap.Error(err))
	s.logger.Warn("Session fault", fields...)
}

// Dispatch queues msg on the output channel ch. It reports whether the request
// has to wait behind one already running, in which case the client is told so.
func (s *Session) Dispatch(ch entities.ChannelNo, msg domain.Message) (bool, error) {
	if !ch.IsOutput() {
		return false, fmt.Errorf("%w: %s", ErrNotOutputChannel, ch)
	}

	s.runMu.Lock()
	ctx := s.runCtx
	s.runMu.Unlock()
	if ctx == nil {
		return false, ErrSessionInactive
	}

	q := s.queues[ch.Index()]
	queued := q.Enqueue(ctx, msg)
	if queued {
		s.env.Metrics.QueueWait(ch.String())
		s.SendText(ch, domain.KindOutputText,
			fmt.Sprintf("Request queued: channel %s is busy (%d waiting)", ch, q.Len()))
	}
	return queued, nil
}

// Queue returns the request queue of an output channel.
func (s *Session) Queue(ch entities.ChannelNo) *ChannelQueue {
	if !ch.Valid() {
		return nil
	}
	return s.queues[ch.Index()]
}

func (s *Session) runner(ch entities.ChannelNo) func(ctx context.Context, msg domain.Message) {
	return func(ctx context.Context, msg domain.Message) {
		start := s.env.Now()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Handler panicked",
					zap.Stringer("channel", ch),
					zap.Any("panic", r))
				s.SendError(ch, "handler_failed", "Request failed", fmt.Errorf("panic: %v", r))
			}
			s.env.Metrics.HandlerDone(ch.String(), s.env.Now().Sub(start))
		}()

		// Handlers reply on msg.Target(); pin it to the queue that serialises them.
		msg.OutputChannel = &ch

		h := s.handlerFor(ch)
		if h == nil {
			s.SendError(ch, "no_handler", "No handler serves this channel", nil)
			return
		}

		if err := h.Handle(ctx, s, msg); err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("Handler cancelled", zap.Stringer("channel", ch), zap.Error(err))
				return
			}
			s.logger.Error("Handler failed", zap.Stringer("channel", ch), zap.Error(err))
			s.SendError(ch, "handler_failed", "Request failed", err)
		}
	}
}

func (s *Session) handlerFor(ch entities.ChannelNo) Handler {
	switch {
	case ch == entities.ChannelChat:
		if s.liveActive() {
			return HandlerFunc(liveTextHandler)
		}
		return s.env.Handlers.Chat
	case ch.IsAgent():
		return s.env.Handlers.Agent
	}
	return nil
}

// liveTextHandler forwards typed text into the running live session. The reply
// arrives through the live sink rather than from this handler.
func liveTextHandler(ctx context.Context, s *Session, msg domain.Message) error {
	text, err := msg.Text()
	if err != nil {
		return err
	}
	w := s.liveWorker()
	if w == nil {
		return live.ErrNotConnected
	}
	return w.SendText(ctx, text)
}

// RegisterFile records an attachment for the next request on ch.
func (s *Session) RegisterFile(ch entities.ChannelNo, path string) {
	s.files.Register(ch, path)
}

// RecentFiles returns attachments registered on ch or the shared channel within
// the configured window.
func (s *Session) RecentFiles(ch entities.ChannelNo) []string {
	return s.files.Recent(ch, s.env.Config.FileWindow)
}

// ChannelState returns the value a handler stored for ch.
func (s *Session) ChannelState(ch entities.ChannelNo) any {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state[ch.Index()]
}

// SetChannelState stores per-channel handler state, such as a chat history.
func (s *Session) SetChannelState(ch entities.ChannelNo, v any) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state[ch.Index()] = v
}

// Transcripts returns recognised utterances, oldest first.
func (s *Session) Transcripts() []domain.Transcript {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]domain.Transcript(nil), s.transcripts...)
}

func (s *Session) addTranscript(t domain.Transcript) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.transcripts = append(s.transcripts, t)
	if over := len(s.transcripts) - s.env.Config.TranscriptHistory; over > 0 {
		s.transcripts = append(s.transcripts[:0], s.transcripts[over:]...)
	}
}

// Info builds the status record sent in welcome_info and update_info.
func (s *Session) Info(ch entities.ChannelNo) domain.Info {
	return domain.Info{
		SessionID:   s.id,
		Channel:     ch,
		Preferences: s.Preferences(),
		LiveState:   s.LiveState(),
		Connected:   s.ConnectedChannels(),
		Transcripts: s.Transcripts(),
	}
}

func (s *Session) sendInfo(ch entities.ChannelNo, kind domain.Kind) {
	msg, err := domain.NewObjectMessage(kind, ch, s.Info(ch))
	if err != nil {
		s.logger.Error("Failed to encode session info", zap.Error(err))
		return
	}
	s.SendToChannel(ch, msg)
}

// notifyUpdate pushes the session status to the control channel.
func (s *Session) notifyUpdate() {
	s.sendInfo(entities.ChannelControl, domain.KindUpdateInfo)
}

// Running reports whether workers are started.
func (s *Session) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runCtx != nil
}

// StartWorkers starts the audio loop and, when enabled, the live worker. It is
// a no-op while workers are running.
func (s *Session) StartWorkers(parent context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runCtx != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.runCtx, s.cancel = ctx, cancel

	done := make(chan struct{})
	s.audioDone = done
	go func() {
		defer close(done)
		s.pipeline.Run(ctx)
	}()

	s.startLiveLocked()
	s.logger.Info("Session workers started")
}

// StopWorkers cancels all workers and waits for the audio loop and live worker.
// Requests still queued are dropped; running handlers see their context cancelled.
func (s *Session) StopWorkers() {
	s.runMu.Lock()
	if s.runCtx == nil {
		s.runMu.Unlock()
		return
	}
	cancel, done, w := s.cancel, s.audioDone, s.live
	s.runCtx, s.cancel, s.audioDone, s.live = nil, nil, nil, nil
	s.runMu.Unlock()

	cancel()
	if w != nil {
		w.Stop()
	}
	<-done

	s.pipeline.Reset()
	s.outputPaused.Store(false)
	s.resetTurn()
	s.logger.Info("Session workers stopped")
}

func (s *Session) liveWorker() *live.Worker {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.live
}

func (s *Session) liveActive() bool {
	w := s.liveWorker()
	return w != nil && w.State() == live.Active
}

// LiveState reports the live worker state, or "off".
func (s *Session) LiveState() string {
	w := s.liveWorker()
	if w == nil {
		return LiveOff
	}
	return w.State().String()
}

// StartLive enables the live session and starts its worker if workers are running.
func (s *Session) StartLive() {
	s.prefsMu.Lock()
	s.prefs.LiveEnabled = true
	s.prefsMu.Unlock()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCtx == nil || s.live != nil {
		return
	}
	s.startLiveLocked()
}

// StopLive disables the live session and stops its worker.
func (s *Session) StopLive() {
	s.prefsMu.Lock()
	s.prefs.LiveEnabled = false
	s.prefsMu.Unlock()

	s.stopLive()
}

func (s *Session) stopLive() {
	s.runMu.Lock()
	w := s.live
	s.live = nil
	s.runMu.Unlock()

	if w != nil {
		w.Stop()
		s.resetTurn()
	}
}

// RestartLive replaces the live worker with a fresh one built from the current
// preferences, with a full retry budget.
func (s *Session) RestartLive() {
	s.stopLive()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCtx == nil || s.live != nil {
		return
	}
	s.startLiveLocked()
}

func (s *Session) startLiveLocked() {
	prefs := s.Preferences()
	if !prefs.LiveEnabled {
		return
	}
	if s.env.Realtime == nil {
		s.SendError(entities.ChannelChat, "live_unavailable", "No live backend is configured", nil)
		return
	}

	backend, err := s.env.Realtime.Get(prefs.LiveProvider)
	if err != nil {
		s.logger.Error("Failed to resolve live backend",
			zap.String("provider", prefs.LiveProvider),
			zap.Error(err))
		s.SendError(entities.ChannelChat, "live_unavailable", "Live backend is not available", err)
		return
	}

	opts := repositories.RealtimeOptions{
		Model:            prefs.LiveModel,
		Voice:            prefs.LiveVoice,
		Instructions:     prefs.Instructions,
		Language:         prefs.Language,
		InputSampleRate:  s.env.Audio.InputSampleRate,
		OutputSampleRate: s.env.Audio.OutputSampleRate,
	}
	toolset := s.env.Tools.With(sessionTools(s)...)

	w := live.NewWorker(backend, opts, toolset, liveSink{s}, s.env.Live, s.logger, live.WithClock(s.env.Now))
	w.Start(s.runCtx)
	s.live = w
}

// SetPreferences replaces the preferences. A running live worker is restarted
// when a setting it was built from changed.
func (s *Session) SetPreferences(prefs entities.Preferences) {
	s.prefsMu.Lock()
	old := s.prefs
	s.prefs = prefs
	s.prefsMu.Unlock()

	switch {
	case !prefs.LiveEnabled:
		s.stopLive()
	case !old.LiveEnabled || !old.LiveSettingsEqual(prefs):
		s.RestartLive()
	}
}

func (s *Session) onSpeechStarted() {
	s.outputPaused.Store(true)
	s.SendText(entities.ChannelChat, domain.KindCancelAudio, "speech")
}

func (s *Session) onFlush(f audio.Flush) {
	s.env.Metrics.AudioFlush(f.Direction.String(), string(f.Reason))

	if f.Direction == audio.Input {
		s.outputPaused.Store(false)
		silence := audio.Silence(s.env.Audio.OutputSampleRate, s.env.Audio.ResetPacket)
		s.SendToChannel(entities.ChannelChat, domain.NewBinaryMessage(domain.KindOutputAudio, entities.ChannelChat, silence))
	}

	if f.Recognize && s.env.Recognizer != nil {
		s.runMu.Lock()
		ctx := s.runCtx
		s.runMu.Unlock()
		if ctx != nil {
			go s.recognize(ctx, f)
		}
	}
}

func (s *Session) recognize(ctx context.Context, f audio.Flush) {
	ctx, cancel := context.WithTimeout(ctx, s.env.Config.RecognitionTimeout)
	defer cancel()

	text, err := s.env.Recognizer.TranscribeAudio(ctx, f.PCM, repositories.AudioConfig{
		SampleRate: f.SampleRate,
		Encoding:   "LINEAR16",
		Language:   s.Preferences().Language,
		Direction:  f.Direction.String(),
	})
	if err != nil {
		if ctx.Err() == nil {
			s.fault("recognize", err)
		}
		return
	}
	if text == "" {
		return
	}

	s.addTranscript(domain.Transcript{Direction: f.Direction.String(), Text: text, At: s.env.Now()})
	s.logger.Info("Speech recognized",
		zap.Stringer("direction", f.Direction),
		zap.Duration("duration", f.Duration()),
		zap.String("text", text))
}

func (s *Session) resetTurn() {
	s.turnMu.Lock()
	s.turnText.Reset()
	s.turnMu.Unlock()
}
