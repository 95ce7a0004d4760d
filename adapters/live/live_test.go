package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

func TestEchoConnEchoesText(t *testing.T) {
	ctx := context.Background()
	conn, err := NewEchoBackend().Connect(ctx, repositories.RealtimeOptions{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendText(ctx, "hello"))

	ev, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, repositories.EventText, ev.Kind)
	assert.Equal(t, "Echo: hello", ev.Text)

	ev, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, repositories.EventTurnComplete, ev.Kind)
}

func TestEchoConnToolCall(t *testing.T) {
	ctx := context.Background()
	conn, err := NewEchoBackend().Connect(ctx, repositories.RealtimeOptions{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendText(ctx, `/tool dispatch_agent {"channel":2,"prompt":"build it"}`))

	ev, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, repositories.EventToolCall, ev.Kind)
	require.Len(t, ev.ToolCalls, 1)
	assert.Equal(t, "dispatch_agent", ev.ToolCalls[0].Name)
	assert.Equal(t, float64(2), ev.ToolCalls[0].Args["channel"])
	assert.NotEmpty(t, ev.ToolCalls[0].ID)
}

func TestEchoConnReceiveHonoursContext(t *testing.T) {
	conn, err := NewEchoBackend().Connect(context.Background(), repositories.RealtimeOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, conn.Close())
	_, err = conn.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.SendAudio(context.Background(), []byte{0, 0}), ErrClosed)
}

func TestEventsFromServerMessage(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
			}},
			OutputTranscription: &genai.Transcription{Text: "hi"},
			TurnComplete:        true,
		},
	}

	evs := eventsFrom(msg)
	require.Len(t, evs, 3)
	assert.Equal(t, repositories.EventAudio, evs[0].Kind)
	assert.Equal(t, repositories.EventText, evs[1].Kind)
	assert.Equal(t, repositories.EventTurnComplete, evs[2].Kind)

	evs = eventsFrom(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "c1", Name: "current_time", Args: map[string]any{}},
		}},
	})
	require.Len(t, evs, 1)
	assert.Equal(t, "c1", evs[0].ToolCalls[0].ID)
}

func TestFunctionDeclarations(t *testing.T) {
	decls := functionDeclarations([]repositories.ToolDeclaration{{
		Name: "dispatch_agent",
		Parameters: []repositories.ToolParameter{
			{Name: "channel", Type: "integer", Required: true},
			{Name: "prompt", Type: "string", Required: true},
			{Name: "verbose", Type: "boolean"},
		},
	}})
	require.Len(t, decls, 1)
	assert.Equal(t, genai.TypeInteger, decls[0].Parameters.Properties["channel"].Type)
	assert.Equal(t, []string{"channel", "prompt"}, decls[0].Parameters.Required)
}
