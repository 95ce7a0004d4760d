package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures the OpenAI-compatible chat backend
type OpenAIConfig struct {
	APIKey string
	// BaseURL points the client at any OpenAI-compatible endpoint
	BaseURL   string
	Model     string
	MaxTokens int
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" && config.BaseURL == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must be positive, got %d", config.MaxTokens)
	}
	return nil
}

// OpenAILLM implements the LargeLanguageModel interface with the chat completions API
type OpenAILLM struct {
	client *openai.Client
	config OpenAIConfig
	logger *zap.Logger
}

// NewOpenAILLM creates a new OpenAI chat backend
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.With(zap.String("component", "openai")),
	}, nil
}

// GenerateChat creates a chat session with history
func (o *OpenAILLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	model := o.config.Model
	if opts.Model != "" {
		model = opts.Model
	}
	return &openAIChatSession{
		llm:          o,
		model:        model,
		systemPrompt: opts.SystemPrompt,
		history:      append([]repositories.ChatMessage(nil), history...),
	}, nil
}

type openAIChatSession struct {
	llm          *OpenAILLM
	model        string
	systemPrompt string

	mu      sync.Mutex
	history []repositories.ChatMessage
}

func (s *openAIChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage, onDelta func(string)) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []openai.ChatCompletionMessage
	if s.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: s.systemPrompt,
		})
	}
	for _, m := range s.history {
		messages = append(messages, openAIMessage(m))
	}
	messages = append(messages, openAIMessage(message))

	stream, err := s.llm.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.llm.config.MaxTokens,
		Messages:  messages,
		Stream:    true,
	})
	if err != nil {
		return repositories.ChatMessage{}, fmt.Errorf("failed to create stream: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				s.llm.logger.Warn("Stream failed",
					zap.String("model", s.model),
					zap.Int("statusCode", apiErr.HTTPStatusCode),
					zap.Any("code", apiErr.Code))
			}
			return repositories.ChatMessage{}, fmt.Errorf("failed to receive stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	text := reply.String()
	if text == "" {
		return repositories.ChatMessage{}, fmt.Errorf("empty response from %s", s.model)
	}

	response := repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}
	s.history = append(s.history, repositories.ChatMessage{Role: message.Role, Content: message.Content}, response)
	return response, nil
}

func (s *openAIChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.ChatMessage(nil), s.history...), nil
}

func openAIMessage(m repositories.ChatMessage) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	switch m.Role {
	case repositories.AssistantRole:
		role = openai.ChatMessageRoleAssistant
	case repositories.SystemRole:
		role = openai.ChatMessageRoleSystem
	}

	if len(m.Attachments) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: m.Content,
	}}
	for _, a := range m.Attachments {
		if a.IsImage() {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: attachmentText(a),
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}
