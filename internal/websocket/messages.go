package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
)

// ErrInvalidMessage wraps every validation failure.
var ErrInvalidMessage = errors.New("invalid message")

// MessageValidator provides validation for inbound envelopes
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an envelope received on ch and checks it.
func (v *MessageValidator) ValidateMessage(messageBytes []byte, ch entities.ChannelNo) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("%w: invalid JSON format: %v", ErrInvalidMessage, err)
	}

	// the channel field is optional, but must match the connection when present
	var header struct {
		Channel *entities.ChannelNo `json:"channel"`
	}
	if err := json.Unmarshal(messageBytes, &header); err == nil && header.Channel != nil && *header.Channel != ch {
		return domain.Message{}, fmt.Errorf("%w: channel %d does not match connection channel %d", ErrInvalidMessage, *header.Channel, ch)
	}
	msg.Channel = ch

	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}

	if !msg.Kind.Known() {
		return domain.Message{}, fmt.Errorf("%w: unsupported message kind: %q", ErrInvalidMessage, msg.Kind)
	}
	if !msg.Kind.IsInput() {
		return domain.Message{}, fmt.Errorf("%w: kind %q is server-only", ErrInvalidMessage, msg.Kind)
	}

	if msg.OutputChannel != nil && !msg.OutputChannel.IsOutput() {
		return domain.Message{}, fmt.Errorf("%w: output_channel must be between 0 and 4", ErrInvalidMessage)
	}

	if err := v.validateContent(msg); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

func (v *MessageValidator) validateContent(msg domain.Message) error {
	switch msg.Kind {
	case domain.KindCancelAudio:
		return nil

	case domain.KindInputText:
		text, err := msg.Text()
		if err != nil {
			return err
		}
		if text == "" {
			return fmt.Errorf("content is required")
		}

	case domain.KindInputAudio, domain.KindInputFile, domain.KindInputImage:
		data, err := msg.Bytes()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("content is required")
		}

	case domain.KindOperations:
		var op domain.Operation
		if err := msg.Decode(&op); err != nil {
			return err
		}
		if op.Op == "" {
			return fmt.Errorf("op is required")
		}
	}
	return nil
}
