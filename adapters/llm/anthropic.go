package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig configures the Anthropic chat backend
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// ValidateAnthropicConfig validates the AnthropicConfig
func ValidateAnthropicConfig(config AnthropicConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Anthropic API key is required")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must be positive, got %d", config.MaxTokens)
	}
	return nil
}

// AnthropicLLM implements the LargeLanguageModel interface with the Messages API
type AnthropicLLM struct {
	client anthropic.Client
	config AnthropicConfig
	logger *zap.Logger
}

// NewAnthropicLLM creates a new Anthropic chat backend
func NewAnthropicLLM(config AnthropicConfig, logger *zap.Logger) (*AnthropicLLM, error) {
	if err := ValidateAnthropicConfig(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicLLM{
		client: anthropic.NewClient(opts...),
		config: config,
		logger: logger.With(zap.String("component", "anthropic")),
	}, nil
}

// GenerateChat creates a chat session with history
func (a *AnthropicLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	model := a.config.Model
	if opts.Model != "" {
		model = opts.Model
	}
	return &anthropicChatSession{
		llm:          a,
		model:        model,
		systemPrompt: opts.SystemPrompt,
		history:      append([]repositories.ChatMessage(nil), history...),
	}, nil
}

type anthropicChatSession struct {
	llm          *AnthropicLLM
	model        string
	systemPrompt string

	mu      sync.Mutex
	history []repositories.ChatMessage
}

func (s *anthropicChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage, onDelta func(string)) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []anthropic.MessageParam
	for _, m := range s.history {
		messages = append(messages, anthropicMessage(m))
	}
	messages = append(messages, anthropicMessage(message))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.llm.config.MaxTokens),
		Messages:  messages,
	}
	if s.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.systemPrompt}}
	}

	stream := s.llm.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				reply.WriteString(d.Text)
				if onDelta != nil {
					onDelta(d.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return repositories.ChatMessage{}, fmt.Errorf("failed to stream message: %w", err)
	}

	text := reply.String()
	if text == "" {
		return repositories.ChatMessage{}, fmt.Errorf("empty response from %s", s.model)
	}

	response := repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}
	s.history = append(s.history, repositories.ChatMessage{Role: message.Role, Content: message.Content}, response)
	return response, nil
}

func (s *anthropicChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.ChatMessage(nil), s.history...), nil
}

func anthropicMessage(m repositories.ChatMessage) anthropic.MessageParam {
	if m.Role == repositories.AssistantRole {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
	for _, a := range m.Attachments {
		if a.IsImage() {
			blocks = append(blocks, anthropic.NewImageBlockBase64(a.MimeType, base64.StdEncoding.EncodeToString(a.Data)))
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(attachmentText(a)))
	}
	return anthropic.NewUserMessage(blocks...)
}
