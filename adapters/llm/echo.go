package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// EchoLLM is a development chat backend that repeats the request. It needs no
// credentials and streams the reply word by word.
type EchoLLM struct{}

// NewEchoLLM creates a new echo backend
func NewEchoLLM() *EchoLLM {
	return &EchoLLM{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (e *EchoLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage, opts repositories.ChatOptions) (repositories.ChatSession, error) {
	return &EchoChatSession{history: append([]repositories.ChatMessage(nil), history...)}, nil
}

// EchoChatSession implements repositories.ChatSession
type EchoChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (e *EchoChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage, onDelta func(string)) (repositories.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return repositories.ChatMessage{}, err
	}

	reply := "Echo: " + message.Content
	if n := len(message.Attachments); n > 0 {
		reply += fmt.Sprintf(" (%d attachment(s))", n)
	}

	if onDelta != nil {
		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			onDelta(w)
		}
	}

	response := repositories.ChatMessage{Role: repositories.AssistantRole, Content: reply}

	e.mu.Lock()
	e.history = append(e.history, repositories.ChatMessage{Role: message.Role, Content: message.Content}, response)
	e.mu.Unlock()

	return response, nil
}

// History implements repositories.ChatSession
func (e *EchoChatSession) History() ([]repositories.ChatMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]repositories.ChatMessage(nil), e.history...), nil
}
