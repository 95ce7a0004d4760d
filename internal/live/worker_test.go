package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/audio"
)

type fakeConn struct {
	events chan repositories.RealtimeEvent
	errs   chan error

	mu      sync.Mutex
	texts   []string
	audio   [][]byte
	images  int
	results []repositories.ToolResult
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan repositories.RealtimeEvent, 16),
		errs:   make(chan error, 1),
	}
}

func (c *fakeConn) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, pcm)
	return nil
}

func (c *fakeConn) SendImage(context.Context, string, []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images++
	return nil
}

func (c *fakeConn) SendToolResult(_ context.Context, r repositories.ToolResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (repositories.RealtimeEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.errs:
		return repositories.RealtimeEvent{}, err
	case <-ctx.Done():
		return repositories.RealtimeEvent{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) audioCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

// fakeBackend fails the first `failures` connects, then hands out conns.
type fakeBackend struct {
	mu       sync.Mutex
	failures int
	attempts int
	conns    []*fakeConn
}

func (b *fakeBackend) Connect(ctx context.Context, _ repositories.RealtimeOptions) (repositories.RealtimeConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.failures < 0 || b.attempts <= b.failures {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *fakeBackend) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *fakeBackend) conn(i int) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

type recordingSink struct {
	mu        sync.Mutex
	audio     [][]byte
	texts     []string
	turns     int
	interrupt int
	tools     []repositories.ToolResult
	states    []State
	maxRetry  int
	terminals []error
}

func (s *recordingSink) OnAudio(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
}

func (s *recordingSink) OnText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *recordingSink) OnTurnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
}

func (s *recordingSink) OnInterrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt++
}

func (s *recordingSink) OnToolResult(_ repositories.ToolCall, r repositories.ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, r)
}

func (s *recordingSink) OnStateChange(state State, retryCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	if retryCount > s.maxRetry {
		s.maxRetry = retryCount
	}
}

func (s *recordingSink) OnTerminal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals = append(s.terminals, err)
}

func (s *recordingSink) terminalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminals)
}

type echoTools struct{}

func (echoTools) Declarations() []repositories.ToolDeclaration {
	return []repositories.ToolDeclaration{{Name: "echo"}}
}

func (echoTools) Execute(_ context.Context, call repositories.ToolCall) repositories.ToolResult {
	return repositories.ToolResult{Output: map[string]any{"echo": call.Args["text"]}}
}

func testConfig() Config {
	return Config{
		MaxRetries:        5,
		Backoff:           time.Millisecond,
		ReceiveTimeout:    10 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	}
}

func TestWorker_ReconnectsAndResetsRetryCount(t *testing.T) {
	backend := &fakeBackend{failures: 3}
	sink := &recordingSink{}
	w := NewWorker(backend, repositories.RealtimeOptions{}, nil, sink, testConfig(), zaptest.NewLogger(t))

	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool { return w.State() == Active }, 2*time.Second, time.Millisecond)

	snap := w.Snapshot()
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, 4, backend.attemptCount())
	assert.Zero(t, sink.terminalCount())

	sink.mu.Lock()
	assert.Equal(t, 3, sink.maxRetry)
	sink.mu.Unlock()
}

func TestWorker_GivesUpAfterMaxRetries(t *testing.T) {
	backend := &fakeBackend{failures: -1}
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.MaxRetries = 3
	w := NewWorker(backend, repositories.RealtimeOptions{}, nil, sink, cfg, zaptest.NewLogger(t))

	w.Start(context.Background())

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, Stopped, w.State())
	assert.Equal(t, 3, backend.attemptCount())
	assert.Equal(t, 1, sink.terminalCount())

	// stays stopped, no further notifications
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.terminalCount())
	assert.ErrorIs(t, w.SendText(context.Background(), "hello"), ErrNotConnected)
}

func TestWorker_RestartAfterTerminal(t *testing.T) {
	backend := &fakeBackend{failures: 2}
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.MaxRetries = 2
	w := NewWorker(backend, repositories.RealtimeOptions{}, nil, sink, cfg, zaptest.NewLogger(t))

	w.Start(context.Background())
	<-w.Done()
	require.Equal(t, Stopped, w.State())

	w.Restart(context.Background())
	defer w.Stop()
	require.Eventually(t, func() bool { return w.State() == Active }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, sink.terminalCount())
}

func TestWorker_ReconnectsAfterConnectionDrop(t *testing.T) {
	backend := &fakeBackend{}
	sink := &recordingSink{}
	w := NewWorker(backend, repositories.RealtimeOptions{}, nil, sink, testConfig(), zaptest.NewLogger(t))

	w.Start(context.Background())
	defer w.Stop()
	require.Eventually(t, func() bool { return backend.conn(0) != nil && w.State() == Active }, time.Second, time.Millisecond)

	backend.conn(0).errs <- errors.New("socket closed")

	require.Eventually(t, func() bool { return backend.conn(1) != nil && w.State() == Active }, time.Second, time.Millisecond)
	assert.Equal(t, 0, w.Snapshot().RetryCount)

	first := backend.conn(0)
	first.mu.Lock()
	assert.True(t, first.closed)
	first.mu.Unlock()
}

func TestWorker_ReceiveTimeoutIsNotAnError(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWorker(backend, repositories.RealtimeOptions{}, nil, &recordingSink{}, testConfig(), zaptest.NewLogger(t))

	w.Start(context.Background())
	defer w.Stop()
	require.Eventually(t, func() bool { return w.State() == Active }, time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Active, w.State())
	assert.Equal(t, 1, backend.attemptCount())
}

func TestWorker_Demultiplexes(t *testing.T) {
	backend := &fakeBackend{}
	sink := &recordingSink{}
	w := NewWorker(backend, repositories.RealtimeOptions{}, echoTools{}, sink, testConfig(), zaptest.NewLogger(t))

	w.Start(context.Background())
	defer w.Stop()
	require.Eventually(t, func() bool { return backend.conn(0) != nil && w.State() == Active }, time.Second, time.Millisecond)

	conn := backend.conn(0)
	conn.events <- repositories.RealtimeEvent{Kind: repositories.EventAudio, Audio: []byte{1, 2}}
	conn.events <- repositories.RealtimeEvent{Kind: repositories.EventText, Text: "hello"}
	conn.events <- repositories.RealtimeEvent{Kind: repositories.EventToolCall, ToolCalls: []repositories.ToolCall{
		{ID: "call-1", Name: "echo", Args: map[string]any{"text": "ping"}},
	}}
	conn.events <- repositories.RealtimeEvent{Kind: repositories.EventInterrupted}
	conn.events <- repositories.RealtimeEvent{Kind: repositories.EventTurnComplete}

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.turns == 1
	}, time.Second, time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, [][]byte{{1, 2}}, sink.audio)
	assert.Equal(t, []string{"hello"}, sink.texts)
	assert.Equal(t, 1, sink.interrupt)
	require.Len(t, sink.tools, 1)
	assert.Equal(t, "call-1", sink.tools[0].ID)
	assert.Equal(t, "ping", sink.tools[0].Output["echo"])
	sink.mu.Unlock()

	conn.mu.Lock()
	require.Len(t, conn.results, 1)
	assert.Equal(t, "call-1", conn.results[0].ID)
	assert.Equal(t, "echo", conn.results[0].Name)
	conn.mu.Unlock()
}

func TestWorker_SendRequiresActive(t *testing.T) {
	w := NewWorker(&fakeBackend{}, repositories.RealtimeOptions{}, nil, nil, testConfig(), zaptest.NewLogger(t))

	assert.ErrorIs(t, w.SendAudio(context.Background(), []byte{0, 0}), ErrNotConnected)
	assert.ErrorIs(t, w.SendImage(context.Background(), "image/png", []byte{1}), ErrNotConnected)

	conn := newFakeConn()
	w.attach(conn)
	w.state.Store(int32(Active))

	require.NoError(t, w.SendText(context.Background(), "hi"))
	require.NoError(t, w.SendImage(context.Background(), "image/png", []byte{1}))
	assert.Equal(t, []string{"hi"}, conn.texts)
	assert.Equal(t, 1, conn.images)
}

func TestWorker_KeepaliveAfterIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	w := NewWorker(&fakeBackend{}, repositories.RealtimeOptions{}, nil, nil, Config{}, zaptest.NewLogger(t), WithClock(clock))
	conn := newFakeConn()
	w.attach(conn)
	w.state.Store(int32(Active))
	ctx := context.Background()

	advance(59 * time.Second)
	sent, err := w.Keepalive(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	advance(time.Second)
	sent, err = w.Keepalive(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Equal(t, 1, conn.audioCount())
	assert.LessOrEqual(t, audio.Peak(conn.audio[0]), DefaultConfig().NoiseAmplitude)
	assert.True(t, clock().Equal(w.Snapshot().LastActivity))

	sent, err = w.Keepalive(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	advance(59 * time.Second)
	sent, _ = w.Keepalive(ctx)
	assert.False(t, sent)
	assert.Equal(t, 1, conn.audioCount())

	advance(time.Second)
	sent, _ = w.Keepalive(ctx)
	assert.True(t, sent)
	assert.Equal(t, 2, conn.audioCount())
}

func TestWorker_TrafficPostponesKeepalive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := NewWorker(&fakeBackend{}, repositories.RealtimeOptions{}, nil, nil, Config{}, zaptest.NewLogger(t),
		WithClock(func() time.Time { return now }))
	conn := newFakeConn()
	w.attach(conn)
	w.state.Store(int32(Active))

	now = now.Add(50 * time.Second)
	require.NoError(t, w.SendAudio(context.Background(), []byte{0, 0}))

	now = now.Add(50 * time.Second)
	sent, err := w.Keepalive(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestWorker_KeepaliveNoiseMatchesInputRate(t *testing.T) {
	for _, rate := range []int{0, 24000} {
		now := time.Unix(1_700_000_000, 0)
		w := NewWorker(&fakeBackend{}, repositories.RealtimeOptions{InputSampleRate: rate}, nil, nil, Config{}, zaptest.NewLogger(t),
			WithClock(func() time.Time { return now }))
		conn := newFakeConn()
		w.attach(conn)
		w.state.Store(int32(Active))

		now = now.Add(DefaultConfig().KeepaliveInterval)
		sent, err := w.Keepalive(context.Background())
		require.NoError(t, err)
		require.True(t, sent)

		want := rate
		if want == 0 {
			want = 16000
		}
		require.Equal(t, 1, conn.audioCount())
		assert.Len(t, conn.audio[0], audio.BytesFor(want, DefaultConfig().NoiseDuration), "rate %d", rate)
	}
}

func TestWorker_ToolDeclarationsFromDispatcher(t *testing.T) {
	w := NewWorker(&fakeBackend{}, repositories.RealtimeOptions{}, echoTools{}, nil, Config{}, zaptest.NewLogger(t))
	require.Len(t, w.opts.Tools, 1)
	assert.Equal(t, "echo", w.opts.Tools[0].Name)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 2 * time.Minute
	assert.Error(t, cfg.Validate())
}
