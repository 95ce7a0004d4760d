package stt

import (
	"context"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

var (
	_ repositories.SpeechToText = &GoogleSpeechToText{}
	_ repositories.SpeechToText = &MockSpeechToText{}
)

func TestRecognizeRequest(t *testing.T) {
	req, err := recognizeRequest([]byte{1, 2, 3, 4}, repositories.AudioConfig{
		SampleRate: 16000,
		Encoding:   "LINEAR16",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if req.Config.Encoding != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("Expected LINEAR16, got %v", req.Config.Encoding)
	}
	if req.Config.LanguageCode != "en-US" {
		t.Errorf("Expected default language en-US, got %s", req.Config.LanguageCode)
	}
	if got := len(req.Audio.GetContent()); got != 4 {
		t.Errorf("Expected 4 bytes of audio, got %d", got)
	}
}

func TestGetAudioEncoding(t *testing.T) {
	tests := []struct {
		encoding string
		wantErr  bool
	}{
		{"WAV", false},
		{"PCM16", false},
		{"FLAC", false},
		{"MP3", true},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			_, err := getAudioEncoding(tt.encoding)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMockSpeechToText(t *testing.T) {
	m := NewMockSpeechToText(zap.NewNop())

	got, err := m.TranscribeAudio(context.Background(), make([]byte, 32000), repositories.AudioConfig{
		SampleRate: 16000,
		Direction:  "input",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "[input speech, 1s]" {
		t.Errorf("Expected [input speech, 1s], got %s", got)
	}

	if _, err := m.TranscribeAudio(context.Background(), nil, repositories.AudioConfig{}); err == nil {
		t.Error("Expected error for empty audio")
	}
}
