package stt

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// MockSpeechToText is a development recognizer. It reports the length of the
// utterance instead of its words.
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	var d time.Duration
	if config.SampleRate > 0 {
		// 16-bit mono
		d = time.Duration(len(audioData)/2) * time.Second / time.Duration(config.SampleRate)
	}

	s.logger.Debug("Processing speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("direction", config.Direction))

	return fmt.Sprintf("[%s speech, %s]", config.Direction, d.Round(10*time.Millisecond)), nil
}
