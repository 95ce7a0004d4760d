package websocket

import (
	"errors"
	"testing"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
)

func TestMessageValidator_ValidateInputText(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"kind":"input_text","content":"hello"}`), entities.ChannelAgent2)
	if err != nil {
		t.Fatalf("Expected valid message, got error: %v", err)
	}
	if msg.Channel != entities.ChannelAgent2 {
		t.Errorf("Expected channel to default to the connection channel, got %d", msg.Channel)
	}
	if msg.Timestamp == "" {
		t.Error("Expected timestamp to be filled")
	}
	if text, _ := msg.Text(); text != "hello" {
		t.Errorf("Expected content hello, got %s", text)
	}
}

func TestMessageValidator_OutputChannel(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"channel":-1,"kind":"input_text","content":"run tests","output_channel":3}`), entities.ChannelControl)
	if err != nil {
		t.Fatalf("Expected valid message, got error: %v", err)
	}
	if msg.Target() != entities.ChannelAgent3 {
		t.Errorf("Expected target channel 3, got %d", msg.Target())
	}

	_, err = validator.ValidateMessage([]byte(`{"kind":"input_text","content":"x","output_channel":-2}`), entities.ChannelControl)
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage for output_channel -2, got %v", err)
	}
}

func TestMessageValidator_Rejects(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		payload string
		channel entities.ChannelNo
	}{
		{"invalid json", `{invalid json}`, entities.ChannelChat},
		{"unknown kind", `{"kind":"shout","content":"hi"}`, entities.ChannelChat},
		{"server kind", `{"kind":"output_text","content":"hi"}`, entities.ChannelChat},
		{"channel mismatch", `{"channel":1,"kind":"input_text","content":"hi"}`, entities.ChannelChat},
		{"empty text", `{"kind":"input_text","content":""}`, entities.ChannelChat},
		{"audio not base64", `{"kind":"input_audio","content":"%%%"}`, entities.ChannelVoice},
		{"operation without op", `{"kind":"operations","content":{}}`, entities.ChannelControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.payload), tt.channel)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestMessageValidator_Operations(t *testing.T) {
	validator := NewMessageValidator()

	msg, err := validator.ValidateMessage([]byte(`{"kind":"operations","content":{"op":"set_preferences","preferences":{"chat_provider":"openai"}}}`), entities.ChannelControl)
	if err != nil {
		t.Fatalf("Expected valid message, got error: %v", err)
	}

	var op domain.Operation
	if err := msg.Decode(&op); err != nil {
		t.Fatalf("Failed to decode operation: %v", err)
	}
	if op.Op != domain.OpSetPreferences {
		t.Errorf("Expected op %s, got %s", domain.OpSetPreferences, op.Op)
	}
	if op.Preferences == nil || op.Preferences.ChatProvider != "openai" {
		t.Errorf("Expected chat provider openai, got %+v", op.Preferences)
	}
}

func TestMessageValidator_CancelAudioWithoutContent(t *testing.T) {
	validator := NewMessageValidator()
	if _, err := validator.ValidateMessage([]byte(`{"kind":"cancel_audio"}`), entities.ChannelChat); err != nil {
		t.Errorf("Expected cancel_audio without content to be valid, got %v", err)
	}
}
