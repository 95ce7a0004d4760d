package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/audio"
)

// State is the connection state of a Worker.
type State int32

const (
	Disconnected State = iota
	Connecting
	Active
	// Stopped means the retry budget ran out; only Restart leaves it.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrNotConnected is returned by sends while the worker is not Active.
// Reconnection is automatic, callers should not treat it as fatal.
var ErrNotConnected = errors.New("live session not connected")

// Sink receives demultiplexed backend events and lifecycle notifications.
// Calls come from the worker's own goroutines and must not block for long.
type Sink interface {
	OnAudio(pcm []byte)
	OnText(text string)
	OnTurnComplete()
	OnInterrupted()
	OnToolResult(call repositories.ToolCall, result repositories.ToolResult)
	OnStateChange(state State, retryCount int)
	// OnTerminal is called once when the retry budget is exhausted.
	OnTerminal(err error)
}

// Snapshot is a read-only view of the worker state.
type Snapshot struct {
	State        State
	RetryCount   int
	LastActivity time.Time
}

// Worker owns one supervised duplex connection to a realtime backend.
type Worker struct {
	backend repositories.RealtimeBackend
	opts    repositories.RealtimeOptions
	tools   repositories.ToolDispatcher
	sink    Sink
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	// written only by the supervisor goroutine
	state   atomic.Int32
	retries atomic.Int32

	lastActivity atomic.Int64

	sendMu sync.Mutex
	conn   repositories.RealtimeConn

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Worker.
type Option func(*Worker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// NewWorker creates a stopped worker. Call Start to connect.
func NewWorker(
	backend repositories.RealtimeBackend,
	opts repositories.RealtimeOptions,
	tools repositories.ToolDispatcher,
	sink Sink,
	cfg Config,
	logger *zap.Logger,
	options ...Option,
) *Worker {
	w := &Worker{
		backend: backend,
		opts:    opts,
		tools:   tools,
		sink:    sink,
		cfg:     cfg.WithDefaults(),
		logger:  logger.With(zap.String("component", "live")),
		now:     time.Now,
	}
	for _, o := range options {
		o(w)
	}
	if w.tools != nil && len(w.opts.Tools) == 0 {
		w.opts.Tools = w.tools.Declarations()
	}
	w.touch()
	return w
}

// Start spawns the supervisor loop. It is a no-op while a loop is running.
func (w *Worker) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.retries.Store(0)
	w.state.Store(int32(Disconnected))

	go w.supervise(ctx, w.done)
}

// Stop cancels the supervisor and waits for it to unwind.
func (w *Worker) Stop() {
	w.runMu.Lock()
	cancel, done := w.cancel, w.done
	w.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart stops the current loop, if any, and starts a fresh one with a full retry budget.
func (w *Worker) Restart(ctx context.Context) {
	w.Stop()
	w.Start(ctx)
}

// Done is closed when the current supervisor loop exits.
func (w *Worker) Done() <-chan struct{} {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.done
}

// State returns the current connection state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Snapshot returns a consistent-enough read-only view for status reporting.
func (w *Worker) Snapshot() Snapshot {
	return Snapshot{
		State:        w.State(),
		RetryCount:   int(w.retries.Load()),
		LastActivity: time.Unix(0, w.lastActivity.Load()),
	}
}

// SendText forwards a user utterance typed as text.
func (w *Worker) SendText(ctx context.Context, text string) error {
	return w.send(func(c repositories.RealtimeConn) error { return c.SendText(ctx, text) })
}

// SendAudio forwards one input PCM frame.
func (w *Worker) SendAudio(ctx context.Context, pcm []byte) error {
	return w.send(func(c repositories.RealtimeConn) error { return c.SendAudio(ctx, pcm) })
}

// SendImage forwards an image frame.
func (w *Worker) SendImage(ctx context.Context, mimeType string, data []byte) error {
	return w.send(func(c repositories.RealtimeConn) error { return c.SendImage(ctx, mimeType, data) })
}

// Keepalive sends a short low-amplitude noise burst when nothing has flowed
// for the keepalive interval. It reports whether a burst was sent.
func (w *Worker) Keepalive(ctx context.Context) (bool, error) {
	idle := w.now().Sub(time.Unix(0, w.lastActivity.Load()))
	if idle < w.cfg.KeepaliveInterval {
		return false, nil
	}

	// The backend labels every audio frame with the ingress rate.
	rate := w.opts.InputSampleRate
	if rate <= 0 {
		rate = fallbackNoiseRate
	}
	noise := audio.Noise(rate, w.cfg.NoiseDuration, w.cfg.NoiseAmplitude)
	if err := w.send(func(c repositories.RealtimeConn) error { return c.SendAudio(ctx, noise) }); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return false, nil
		}
		return false, err
	}

	w.logger.Debug("Keepalive sent", zap.Duration("idle", idle))
	return true, nil
}

func (w *Worker) send(fn func(repositories.RealtimeConn) error) error {
	if w.State() != Active {
		return ErrNotConnected
	}

	w.sendMu.Lock()
	conn := w.conn
	if conn == nil {
		w.sendMu.Unlock()
		return ErrNotConnected
	}
	err := fn(conn)
	w.sendMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send to live backend: %w", err)
	}
	w.touch()
	return nil
}

func (w *Worker) touch() {
	w.lastActivity.Store(w.now().UnixNano())
}

func (w *Worker) setState(s State) {
	if State(w.state.Swap(int32(s))) == s {
		return
	}
	w.logger.Info("Live state changed",
		zap.Stringer("state", s),
		zap.Int32("retryCount", w.retries.Load()))
	if w.sink != nil {
		w.sink.OnStateChange(s, int(w.retries.Load()))
	}
}

func (w *Worker) attach(conn repositories.RealtimeConn) {
	w.sendMu.Lock()
	w.conn = conn
	w.sendMu.Unlock()
}

func (w *Worker) detach() {
	w.sendMu.Lock()
	conn := w.conn
	w.conn = nil
	w.sendMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			w.logger.Debug("Failed to close live connection", zap.Error(err))
		}
	}
}

func (w *Worker) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	var lastErr error
	for {
		if ctx.Err() != nil {
			w.setState(Disconnected)
			return
		}

		if n := int(w.retries.Load()); n >= w.cfg.MaxRetries {
			w.setState(Stopped)
			w.logger.Error("Live backend retry budget exhausted",
				zap.Int("retries", n),
				zap.Error(lastErr))
			if w.sink != nil {
				w.sink.OnTerminal(fmt.Errorf("live backend unavailable after %d attempts: %w", n, lastErr))
			}
			return
		}

		w.setState(Connecting)
		conn, err := w.backend.Connect(ctx, w.opts)
		if err == nil {
			w.attach(conn)
			w.retries.Store(0)
			w.touch()
			w.setState(Active)

			err = w.serve(ctx, conn)
			w.detach()
		}

		if ctx.Err() != nil {
			continue
		}

		lastErr = err
		n := w.retries.Add(1)
		w.logger.Warn("Live backend connection failed",
			zap.Int32("retryCount", n),
			zap.Error(err))
		w.setState(Disconnected)

		if int(n) >= w.cfg.MaxRetries {
			continue
		}
		w.wait(ctx, w.cfg.Backoff)
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// serve runs heartbeat and receive concurrently until either fails or ctx ends.
func (w *Worker) serve(ctx context.Context, conn repositories.RealtimeConn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.heartbeat(gctx) })
	g.Go(func() error { return w.receive(gctx, conn) })
	return g.Wait()
}

func (w *Worker) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Keepalive(ctx); err != nil {
				return fmt.Errorf("keepalive failed: %w", err)
			}
		}
	}
}

func (w *Worker) receive(ctx context.Context, conn repositories.RealtimeConn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rctx, cancel := context.WithTimeout(ctx, w.cfg.ReceiveTimeout)
		ev, err := conn.Receive(rctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return fmt.Errorf("failed to receive from live backend: %w", err)
		}

		w.touch()
		w.demux(ctx, conn, ev)
	}
}

func (w *Worker) demux(ctx context.Context, conn repositories.RealtimeConn, ev repositories.RealtimeEvent) {
	if w.sink == nil {
		return
	}

	switch ev.Kind {
	case repositories.EventAudio:
		w.sink.OnAudio(ev.Audio)
	case repositories.EventText:
		w.sink.OnText(ev.Text)
	case repositories.EventTurnComplete:
		w.sink.OnTurnComplete()
	case repositories.EventInterrupted:
		w.sink.OnInterrupted()
	case repositories.EventToolCall:
		for _, call := range ev.ToolCalls {
			result := w.execute(ctx, call)
			w.sink.OnToolResult(call, result)

			w.sendMu.Lock()
			err := conn.SendToolResult(ctx, result)
			w.sendMu.Unlock()
			if err != nil {
				w.logger.Warn("Failed to send tool result",
					zap.String("tool", call.Name),
					zap.String("callID", call.ID),
					zap.Error(err))
			}
		}
	default:
		w.logger.Warn("Unknown live event", zap.Int("kind", int(ev.Kind)))
	}
}

func (w *Worker) execute(ctx context.Context, call repositories.ToolCall) repositories.ToolResult {
	var result repositories.ToolResult
	if w.tools == nil {
		result = repositories.ToolResult{Err: "no tools available"}
	} else {
		result = w.tools.Execute(ctx, call)
	}
	result.ID = call.ID
	result.Name = call.Name
	return result
}
