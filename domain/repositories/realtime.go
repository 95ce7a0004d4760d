package repositories

import "context"

// RealtimeBackend opens duplex connections to a realtime conversational AI endpoint
type RealtimeBackend interface {
	Connect(ctx context.Context, opts RealtimeOptions) (RealtimeConn, error)
}

// RealtimeOptions are the backend-specific options of one connection attempt
type RealtimeOptions struct {
	Model            string
	Voice            string
	Instructions     string
	Language         string
	Tools            []ToolDeclaration
	InputSampleRate  int
	OutputSampleRate int
}

// RealtimeConn is one open duplex connection. Sends must not be called concurrently.
type RealtimeConn interface {
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, pcm []byte) error
	SendImage(ctx context.Context, mimeType string, data []byte) error
	SendToolResult(ctx context.Context, result ToolResult) error
	// Receive blocks until the next event, ctx expiry or connection failure
	Receive(ctx context.Context) (RealtimeEvent, error)
	Close() error
}

// RealtimeEventKind discriminates inbound backend events
type RealtimeEventKind int

const (
	EventAudio RealtimeEventKind = iota
	EventText
	EventToolCall
	EventTurnComplete
	EventInterrupted
)

// RealtimeEvent is one demultiplexed inbound event
type RealtimeEvent struct {
	Kind      RealtimeEventKind
	Audio     []byte
	Text      string
	ToolCalls []ToolCall
}
