package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud with the
// non-streaming Recognize call. Buffers arrive already segmented by the audio
// pipeline, so one request per flush is enough.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

// NewGoogleSpeechToText creates the speech client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{
		client: client,
		logger: logger.With(zap.String("component", "google-stt")),
	}, nil
}

// TranscribeAudio converts audio data to text
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	req, err := recognizeRequest(audioData, config)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Recognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to recognize speech: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			// Take the best alternative
			parts = append(parts, strings.TrimSpace(result.Alternatives[0].Transcript))
		}
	}
	transcript := strings.Join(parts, " ")

	g.logger.Debug("Speech recognized",
		zap.String("direction", config.Direction),
		zap.Int("audioSize", len(audioData)),
		zap.Int("results", len(resp.Results)))
	return transcript, nil
}

// Close releases the underlying client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

func recognizeRequest(audioData []byte, config repositories.AudioConfig) (*speechpb.RecognizeRequest, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	language := config.Language
	if language == "" {
		language = "en-US"
	}
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(config.SampleRate),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	}, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16", "PCM16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
