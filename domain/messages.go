package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/kanal/server/domain/entities"
)

// Kind discriminates wire messages
type Kind string

const (
	KindInputText    Kind = "input_text"
	KindInputAudio   Kind = "input_audio"
	KindInputFile    Kind = "input_file"
	KindInputImage   Kind = "input_image"
	KindOutputText   Kind = "output_text"
	KindOutputStream Kind = "output_stream"
	KindOutputAudio  Kind = "output_audio"
	KindOutputFile   Kind = "output_file"
	KindWelcomeInfo  Kind = "welcome_info"
	KindUpdateInfo   Kind = "update_info"
	KindError        Kind = "error"
	KindCancelAudio  Kind = "cancel_audio"
	KindOperations   Kind = "operations"
)

// Known reports whether k is one of the wire kinds.
func (k Kind) Known() bool {
	switch k {
	case KindInputText, KindInputAudio, KindInputFile, KindInputImage,
		KindOutputText, KindOutputStream, KindOutputAudio, KindOutputFile,
		KindWelcomeInfo, KindUpdateInfo, KindError, KindCancelAudio, KindOperations:
		return true
	}
	return false
}

// IsInput reports whether k is sent by clients.
func (k Kind) IsInput() bool {
	switch k {
	case KindInputText, KindInputAudio, KindInputFile, KindInputImage, KindCancelAudio, KindOperations:
		return true
	}
	return false
}

// Message is the tagged record exchanged on every channel.
type Message struct {
	SessionID     string              `json:"session_id"`
	Channel       entities.ChannelNo  `json:"channel"`
	Kind          Kind                `json:"kind"`
	Content       json.RawMessage     `json:"content,omitempty"`
	OutputChannel *entities.ChannelNo `json:"output_channel,omitempty"`
	FileName      string              `json:"file_name,omitempty"`
	MimeType      string              `json:"mime_type,omitempty"`
	Timestamp     string              `json:"timestamp,omitempty"`
}

// Text decodes a plain string content.
func (m Message) Text() (string, error) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", fmt.Errorf("content is not a string: %w", err)
	}
	return s, nil
}

// Bytes decodes a base64 string content.
func (m Message) Bytes() ([]byte, error) {
	s, err := m.Text()
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("content is not base64: %w", err)
	}
	return data, nil
}

// Decode unmarshals an object content into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("failed to decode content: %w", err)
	}
	return nil
}

// Target returns the output channel a request should be dispatched to.
func (m Message) Target() entities.ChannelNo {
	if m.OutputChannel != nil {
		return *m.OutputChannel
	}
	return m.Channel
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}

// NewTextMessage builds a message whose content is a plain string.
func NewTextMessage(kind Kind, ch entities.ChannelNo, text string) Message {
	content, _ := json.Marshal(text)
	return Message{Channel: ch, Kind: kind, Content: content, Timestamp: now()}
}

// NewBinaryMessage builds a message whose content is base64 encoded.
func NewBinaryMessage(kind Kind, ch entities.ChannelNo, data []byte) Message {
	return NewTextMessage(kind, ch, base64.StdEncoding.EncodeToString(data))
}

// NewObjectMessage builds a message whose content is a structured object.
func NewObjectMessage(kind Kind, ch entities.ChannelNo, v any) (Message, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode content: %w", err)
	}
	return Message{Channel: ch, Kind: kind, Content: content, Timestamp: now()}, nil
}

// ErrorContent is the content of an error message
type ErrorContent struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorMessage creates a standardized error message
func NewErrorMessage(ch entities.ChannelNo, code, message, details string) Message {
	msg, _ := NewObjectMessage(KindError, ch, ErrorContent{Code: code, Message: message, Details: details})
	return msg
}

// Operation is the content of an operations message
type Operation struct {
	Op          string                `json:"op"`
	Preferences *entities.Preferences `json:"preferences,omitempty"`
}

// Operation names accepted on the control channel.
const (
	OpSetPreferences = "set_preferences"
	OpLiveStart      = "live_start"
	OpLiveStop       = "live_stop"
	OpLiveRestart    = "live_restart"
	OpStatus         = "status"
	OpCloseSession   = "close_session"
)

// Info is the content of welcome_info and update_info messages.
type Info struct {
	SessionID   string               `json:"session_id"`
	Channel     entities.ChannelNo   `json:"channel"`
	Preferences entities.Preferences `json:"preferences"`
	LiveState   string               `json:"live_state"`
	Connected   []entities.ChannelNo `json:"connected,omitempty"`
	Transcripts []Transcript         `json:"transcripts,omitempty"`
}

// Transcript is one recognised utterance kept in session history.
type Transcript struct {
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// ToolEvent is the content of the operations message that surfaces a tool call on channel 0.
type ToolEvent struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}
