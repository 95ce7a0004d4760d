package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	client       *genai.Client
	config       GeminiConfig
	systemPrompt string
	logger       *zap.Logger

	mu      sync.Mutex
	history []*genai.Content
}

// NewGeminiChatSession creates a new chat session with config and history
func NewGeminiChatSession(client *genai.Client, config GeminiConfig, systemPrompt string, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	return &GeminiChatSession{
		client:       client,
		config:       config.withDefaults(),
		systemPrompt: systemPrompt,
		logger:       logger,
		history:      convertRepositoryToGeminiFormat(history),
	}
}

func (s *GeminiChatSession) generateConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.config.Temperature),
		TopP:            genai.Ptr(s.config.TopP),
		TopK:            genai.Ptr(s.config.TopK),
		MaxOutputTokens: int32(s.config.MaxOutputTokens),
	}
	if s.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(s.systemPrompt, genai.RoleUser)
	}
	return config
}

// SendMessage streams a reply and appends the exchange to the history
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage, onDelta func(string)) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userContent := userContentFor(message)
	contents := append(append([]*genai.Content{}, s.history...), userContent)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
	defer cancel()

	var (
		reply strings.Builder
		err   error
	)
	for attempt := 0; attempt < defaultRetries; attempt++ {
		err = s.stream(ctx, contents, &reply, onDelta)
		// Partial output was already delivered; retrying would duplicate it.
		if err == nil || reply.Len() > 0 || ctx.Err() != nil {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < defaultRetries-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
			}
		}
	}
	if err != nil {
		return repositories.ChatMessage{}, fmt.Errorf("failed to generate content: %w", err)
	}

	text := reply.String()
	if text == "" {
		return repositories.ChatMessage{}, fmt.Errorf("empty response from %s", s.config.Model)
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(text, genai.RoleModel))

	s.logger.Debug("Chat session message processed",
		zap.String("model", s.config.Model),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: text}, nil
}

func (s *GeminiChatSession) stream(ctx context.Context, contents []*genai.Content, reply *strings.Builder, onDelta func(string)) error {
	for resp, err := range s.client.Models.GenerateContentStream(ctx, s.config.Model, contents, s.generateConfig()) {
		if err != nil {
			return err
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convertGeminiToRepositoryFormat(s.history), nil
}

func userContentFor(message repositories.ChatMessage) *genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(message.Content)}
	for _, a := range message.Attachments {
		if a.IsImage() {
			parts = append(parts, genai.NewPartFromBytes(a.Data, a.MimeType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(attachmentText(a)))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// Gemini has no system role in the turn list
			role = genai.RoleUser
		}

		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage

	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == genai.RoleModel {
			role = repositories.AssistantRole
		}

		// Inline attachments are not carried over
		var text string
		for _, part := range content.Parts {
			if part.Text != "" {
				text += part.Text
			}
		}

		if text != "" {
			messages = append(messages, repositories.ChatMessage{
				Role:    role,
				Content: text,
			})
		}
	}

	return messages
}
