package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

func TestEchoChatStreamsAndRecordsHistory(t *testing.T) {
	chat, err := NewEchoLLM().GenerateChat(context.Background(), nil, repositories.ChatOptions{})
	require.NoError(t, err)

	var deltas []string
	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: "hello there",
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "Echo: hello there", reply.Content)
	assert.Equal(t, reply.Content, strings.Join(deltas, ""))

	history, err := chat.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, repositories.AssistantRole, history[1].Role)
}

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"valid", GeminiConfig{APIKey: "k"}, false},
		{"missing key", GeminiConfig{}, true},
		{"temperature out of range", GeminiConfig{APIKey: "k", Temperature: 3}, true},
		{"topP out of range", GeminiConfig{APIKey: "k", TopP: 1.5}, true},
		{"negative timeout", GeminiConfig{APIKey: "k", TimeoutSeconds: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGeminiHistoryConversion(t *testing.T) {
	in := []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: "hi"},
		{Role: repositories.AssistantRole, Content: "hello"},
	}
	contents := convertRepositoryToGeminiFormat(in)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleModel), string(contents[1].Role))

	assert.Equal(t, in, convertGeminiToRepositoryFormat(contents))
}

func TestGeminiUserContentCarriesImages(t *testing.T) {
	content := userContentFor(repositories.ChatMessage{
		Content: "look",
		Attachments: []repositories.Attachment{
			{Path: "/f/a.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
			{Path: "/f/notes.txt", MimeType: "text/plain", Data: []byte("remember")},
		},
	})
	require.Len(t, content.Parts, 3)
	require.NotNil(t, content.Parts[1].InlineData)
	assert.Equal(t, "image/png", content.Parts[1].InlineData.MIMEType)
	assert.Contains(t, content.Parts[2].Text, "remember")
}

func TestOpenAIChatStreams(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	backend, err := NewOpenAILLM(OpenAIConfig{APIKey: "secret", BaseURL: srv.URL + "/v1"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	chat, err := backend.GenerateChat(context.Background(), nil, repositories.ChatOptions{SystemPrompt: "be brief"})
	require.NoError(t, err)

	var deltas []string
	reply, err := chat.SendMessage(context.Background(), repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: "hi",
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "Hello", reply.Content)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)

	history, err := chat.History()
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestValidateProviderConfigs(t *testing.T) {
	assert.Error(t, ValidateOpenAIConfig(OpenAIConfig{}))
	assert.NoError(t, ValidateOpenAIConfig(OpenAIConfig{BaseURL: "http://localhost:11434/v1"}))
	assert.Error(t, ValidateAnthropicConfig(AnthropicConfig{}))
	assert.Error(t, ValidateAnthropicConfig(AnthropicConfig{APIKey: "k", MaxTokens: -1}))
}
