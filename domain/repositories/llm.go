package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// GenerateChat creates a chat session with history
	GenerateChat(ctx context.Context, history []ChatMessage, opts ChatOptions) (ChatSession, error)
}

// ChatOptions selects the model and system prompt of a chat session
type ChatOptions struct {
	Model        string
	SystemPrompt string
}

// ChatSession represents an ongoing conversation session
type ChatSession interface {
	// SendMessage sends a message, calling onDelta for each streamed chunk when it is not nil
	SendMessage(ctx context.Context, message ChatMessage, onDelta func(string)) (ChatMessage, error)
	History() ([]ChatMessage, error)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"-"`
}

// Attachment is a file handed to a backend together with a message
type Attachment struct {
	Path     string
	MimeType string
	Data     []byte
}

// IsImage reports whether the attachment can be sent as inline image data
func (a Attachment) IsImage() bool {
	return len(a.MimeType) > 6 && a.MimeType[:6] == "image/"
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
