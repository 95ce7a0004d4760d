package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// toolPrefix makes the echo backend issue a tool call instead of echoing:
// "/tool <name> <json args>".
const toolPrefix = "/tool "

// EchoBackend is a development realtime backend. Text is echoed back as a
// complete turn, images are acknowledged and audio is accepted and discarded.
type EchoBackend struct{}

// NewEchoBackend creates a new echo backend
func NewEchoBackend() *EchoBackend {
	return &EchoBackend{}
}

// Connect implements repositories.RealtimeBackend
func (b *EchoBackend) Connect(ctx context.Context, opts repositories.RealtimeOptions) (repositories.RealtimeConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &echoConn{
		events: make(chan repositories.RealtimeEvent, eventBuffer),
		done:   make(chan struct{}),
	}, nil
}

type echoConn struct {
	events    chan repositories.RealtimeEvent
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	audioBytes int
}

func (c *echoConn) emit(evs ...repositories.RealtimeEvent) error {
	for _, ev := range evs {
		select {
		case <-c.done:
			return ErrClosed
		default:
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return ErrClosed
		}
	}
	return nil
}

func (c *echoConn) SendText(ctx context.Context, text string) error {
	if strings.HasPrefix(text, toolPrefix) {
		return c.emit(toolCallEvent(strings.TrimPrefix(text, toolPrefix)))
	}
	return c.emit(
		repositories.RealtimeEvent{Kind: repositories.EventText, Text: "Echo: " + text},
		repositories.RealtimeEvent{Kind: repositories.EventTurnComplete},
	)
}

func (c *echoConn) SendAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.audioBytes += len(pcm)
	c.mu.Unlock()
	return nil
}

func (c *echoConn) SendImage(ctx context.Context, mimeType string, data []byte) error {
	return c.emit(
		repositories.RealtimeEvent{Kind: repositories.EventText, Text: "Received image (" + mimeType + ")"},
		repositories.RealtimeEvent{Kind: repositories.EventTurnComplete},
	)
}

func (c *echoConn) SendToolResult(ctx context.Context, result repositories.ToolResult) error {
	out, err := json.Marshal(result.Response())
	if err != nil {
		return err
	}
	return c.emit(
		repositories.RealtimeEvent{Kind: repositories.EventText, Text: result.Name + ": " + string(out)},
		repositories.RealtimeEvent{Kind: repositories.EventTurnComplete},
	)
}

func (c *echoConn) Receive(ctx context.Context) (repositories.RealtimeEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		return repositories.RealtimeEvent{}, ErrClosed
	case <-ctx.Done():
		return repositories.RealtimeEvent{}, ctx.Err()
	}
}

func (c *echoConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func toolCallEvent(spec string) repositories.RealtimeEvent {
	name, rawArgs, _ := strings.Cut(strings.TrimSpace(spec), " ")
	args := map[string]any{}
	if rawArgs != "" {
		// Malformed args are passed as empty; the tool reports what is missing.
		_ = json.Unmarshal([]byte(rawArgs), &args)
	}
	return repositories.RealtimeEvent{
		Kind: repositories.EventToolCall,
		ToolCalls: []repositories.ToolCall{{
			ID:   uuid.NewString(),
			Name: name,
			Args: args,
		}},
	}
}
