package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

const (
	defaultModel = "gemini-2.0-flash-live-001"
	defaultVoice = "Puck"
	eventBuffer  = 64
)

// ErrClosed is returned by Receive once the connection has ended.
var ErrClosed = errors.New("live connection closed")

// GeminiConfig configures the Gemini Live backend
type GeminiConfig struct {
	APIKey string
	Model  string
	Voice  string
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	return nil
}

// GeminiBackend opens Gemini Live sessions. It implements
// repositories.RealtimeBackend.
type GeminiBackend struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

// NewGeminiBackend creates a new Gemini Live backend
func NewGeminiBackend(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiBackend, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Voice == "" {
		config.Voice = defaultVoice
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "gemini-live")),
	}, nil
}

// Connect implements repositories.RealtimeBackend
func (b *GeminiBackend) Connect(ctx context.Context, opts repositories.RealtimeOptions) (repositories.RealtimeConn, error) {
	model := opts.Model
	if model == "" {
		model = b.config.Model
	}
	voice := opts.Voice
	if voice == "" {
		voice = b.config.Voice
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: opts.Language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if opts.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(opts.Instructions, genai.RoleUser)
	}
	if len(opts.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(opts.Tools)}}
	}

	session, err := b.client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live: %w", err)
	}

	b.logger.Info("Live session opened",
		zap.String("model", model),
		zap.String("voice", voice),
		zap.Int("tools", len(opts.Tools)))

	c := &geminiConn{
		session:   session,
		inputRate: opts.InputSampleRate,
		events:    make(chan repositories.RealtimeEvent, eventBuffer),
		done:      make(chan struct{}),
		logger:    b.logger,
	}
	go c.pump()
	return c, nil
}

// geminiConn adapts a blocking genai Live session to context-aware receives.
// A pump goroutine demultiplexes server messages into events.
type geminiConn struct {
	session   *genai.Session
	inputRate int

	events chan repositories.RealtimeEvent
	done   chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	logger    *zap.Logger
}

func (c *geminiConn) pump() {
	defer close(c.events)
	for {
		msg, err := c.session.Receive()
		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			return
		}
		for _, ev := range eventsFrom(msg) {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// eventsFrom splits one server message into the events it carries, in order.
func eventsFrom(msg *genai.LiveServerMessage) []repositories.RealtimeEvent {
	var out []repositories.RealtimeEvent

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, repositories.RealtimeEvent{Kind: repositories.EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					out = append(out, repositories.RealtimeEvent{Kind: repositories.EventAudio, Audio: part.InlineData.Data})
				}
				if part.Text != "" {
					out = append(out, repositories.RealtimeEvent{Kind: repositories.EventText, Text: part.Text})
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, repositories.RealtimeEvent{Kind: repositories.EventText, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			out = append(out, repositories.RealtimeEvent{Kind: repositories.EventTurnComplete})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]repositories.ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			calls = append(calls, repositories.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, repositories.RealtimeEvent{Kind: repositories.EventToolCall, ToolCalls: calls})
	}
	return out
}

func (c *geminiConn) Receive(ctx context.Context) (repositories.RealtimeEvent, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			c.errMu.Lock()
			err := c.err
			c.errMu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return repositories.RealtimeEvent{}, err
		}
		return ev, nil
	case <-ctx.Done():
		return repositories.RealtimeEvent{}, ctx.Err()
	}
}

func (c *geminiConn) SendText(ctx context.Context, text string) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (c *geminiConn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", c.inputRate)},
	})
}

func (c *geminiConn) SendImage(ctx context.Context, mimeType string, data []byte) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (c *geminiConn) SendToolResult(ctx context.Context, result repositories.ToolResult) error {
	return c.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       result.ID,
			Name:     result.Name,
			Response: result.Response(),
		}},
	})
}

func (c *geminiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.session.Close()
	})
	return err
}

func functionDeclarations(decls []repositories.ToolDeclaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Parameters)),
		}
		for _, p := range d.Parameters {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
				Enum:        p.Enum,
			}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
