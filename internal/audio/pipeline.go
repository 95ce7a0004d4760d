package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Direction selects the human (input) or AI (output) side of the pipeline.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// State is the per-direction buffer state.
type State int

const (
	Idle State = iota
	Accumulating
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FlushReason records which ceiling released a buffer.
type FlushReason string

const (
	ReasonSilence        FlushReason = "silence"
	ReasonFailsafeAge    FlushReason = "failsafe_age"
	ReasonFailsafeFrames FlushReason = "failsafe_frames"
	ReasonForced         FlushReason = "forced"
)

// Flush is one emitted buffer.
type Flush struct {
	Direction  Direction
	PCM        []byte
	SampleRate int
	Frames     int
	Reason     FlushReason
	// Recognize is set when the buffer is long enough to be worth recognising.
	Recognize bool
}

// Duration is the playback length of the flushed PCM16 mono audio.
func (f Flush) Duration() time.Duration {
	return PCMDuration(len(f.PCM), f.SampleRate)
}

// Hooks receive pipeline events. Both are called without internal locks held.
type Hooks struct {
	// SpeechStarted fires when voice is detected on an empty input buffer.
	SpeechStarted func()
	// Flushed fires once per released buffer.
	Flushed func(Flush)
}

// Pipeline classifies PCM16 frames as voice or not and buffers each direction
// until silence or a failsafe ceiling releases it.
type Pipeline struct {
	cfg     Config
	hooks   Hooks
	now     func() time.Time
	logger  *zap.Logger
	buffers [2]*buffer
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline with both directions idle.
func NewPipeline(cfg Config, hooks Hooks, logger *zap.Logger, opts ...Option) *Pipeline {
	cfg = cfg.WithDefaults()
	p := &Pipeline{
		cfg:    cfg,
		hooks:  hooks,
		now:    time.Now,
		logger: logger.With(zap.String("component", "audio")),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buffers[Input] = newBuffer(Input, cfg.InputRecognitionDelay, cfg.InputSampleRate, cfg.HistorySize)
	p.buffers[Output] = newBuffer(Output, cfg.OutputRecognitionDelay, cfg.OutputSampleRate, cfg.HistorySize)
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// OnFrame classifies one frame and feeds it into the direction's buffer.
// It reports whether the frame was classified as voice.
func (p *Pipeline) OnFrame(dir Direction, frame []byte) bool {
	b := p.buffers[dir]
	now := p.now()

	b.mu.Lock()
	voice := b.classify(Peak(frame), p.cfg.ThresholdOffset)

	speechStarted := false
	if b.state == Idle {
		if !voice {
			b.mu.Unlock()
			return false
		}
		b.state = Accumulating
		b.startTime = now
		speechStarted = dir == Input
	}

	b.frames = append(b.frames, frame)
	b.size += len(frame)
	if voice {
		b.lastActivity = now
	}

	var flush *Flush
	if len(b.frames) > p.cfg.FailsafeFrames {
		flush = b.take(ReasonFailsafeFrames, p.cfg.minRecognitionBytes(b.sampleRate))
	}
	b.mu.Unlock()

	if speechStarted && p.hooks.SpeechStarted != nil {
		p.hooks.SpeechStarted()
	}
	if flush != nil {
		p.emit(*flush)
	}
	return voice
}

// Tick releases every buffer whose silence delay or failsafe ceiling has passed.
func (p *Pipeline) Tick() {
	now := p.now()
	for _, b := range p.buffers {
		b.mu.Lock()
		var flush *Flush
		if b.state == Accumulating {
			var reason FlushReason
			switch {
			case now.Sub(b.lastActivity) > b.delay:
				reason = ReasonSilence
			case now.Sub(b.startTime) > p.cfg.FailsafeAge:
				reason = ReasonFailsafeAge
			case len(b.frames) > p.cfg.FailsafeFrames:
				reason = ReasonFailsafeFrames
			}
			if reason != "" {
				flush = b.take(reason, p.cfg.minRecognitionBytes(b.sampleRate))
			}
		}
		b.mu.Unlock()

		if flush != nil {
			p.emit(*flush)
		}
	}
}

// Flush forces both buffers out regardless of their timers.
func (p *Pipeline) Flush() {
	for _, b := range p.buffers {
		b.mu.Lock()
		var flush *Flush
		if b.state == Accumulating {
			flush = b.take(ReasonForced, p.cfg.minRecognitionBytes(b.sampleRate))
		}
		b.mu.Unlock()
		if flush != nil {
			p.emit(*flush)
		}
	}
}

// Reset drops buffered audio and level history without emitting anything.
func (p *Pipeline) Reset() {
	for _, b := range p.buffers {
		b.mu.Lock()
		b.reset()
		b.history = b.history[:0]
		b.pos = 0
		b.mu.Unlock()
	}
}

// State returns the current buffer state of dir.
func (p *Pipeline) State(dir Direction) State {
	b := p.buffers[dir]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Threshold returns the current detection threshold of dir.
func (p *Pipeline) Threshold(dir Direction) float64 {
	b := p.buffers[dir]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.average() + p.cfg.ThresholdOffset
}

// Run ticks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

func (p *Pipeline) emit(f Flush) {
	p.logger.Debug("Audio buffer flushed",
		zap.Stringer("direction", f.Direction),
		zap.String("reason", string(f.Reason)),
		zap.Int("frames", f.Frames),
		zap.Duration("duration", f.Duration()),
		zap.Bool("recognize", f.Recognize))

	if p.hooks.Flushed != nil {
		p.hooks.Flushed(f)
	}
}

type buffer struct {
	mu sync.Mutex

	dir        Direction
	delay      time.Duration
	sampleRate int

	state        State
	startTime    time.Time
	lastActivity time.Time
	frames       [][]byte
	size         int

	// rolling peak history
	history []float64
	pos     int
	limit   int
}

func newBuffer(dir Direction, delay time.Duration, sampleRate, historySize int) *buffer {
	return &buffer{
		dir:        dir,
		delay:      delay,
		sampleRate: sampleRate,
		history:    make([]float64, 0, historySize),
		limit:      historySize,
	}
}

// classify compares peak to the moving average of the frames before it plus
// offset, then pushes peak into the history. The current frame never raises its
// own threshold, so the first loud frame after a quiet or cold start counts as
// voice. A level held constant becomes the new floor: it opens a buffer on its
// onset and then reads as silence until it changes.
func (b *buffer) classify(peak int, offset float64) bool {
	level := float64(peak)
	voice := level > b.average()+offset
	if len(b.history) < b.limit {
		b.history = append(b.history, level)
	} else {
		b.history[b.pos] = level
		b.pos = (b.pos + 1) % b.limit
	}
	return voice
}

func (b *buffer) average() float64 {
	if len(b.history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range b.history {
		sum += v
	}
	return sum / float64(len(b.history))
}

func (b *buffer) take(reason FlushReason, minBytes int) *Flush {
	b.state = Flushing
	pcm := make([]byte, 0, b.size)
	for _, f := range b.frames {
		pcm = append(pcm, f...)
	}
	flush := &Flush{
		Direction:  b.dir,
		PCM:        pcm,
		SampleRate: b.sampleRate,
		Frames:     len(b.frames),
		Reason:     reason,
		Recognize:  len(pcm) >= minBytes,
	}
	b.reset()
	return flush
}

func (b *buffer) reset() {
	b.state = Idle
	b.frames = nil
	b.size = 0
	b.startTime = time.Time{}
	b.lastActivity = time.Time{}
}
