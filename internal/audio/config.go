package audio

import (
	"errors"
	"time"
)

const (
	defaultHistorySize            = 50
	defaultThresholdOffset        = 500
	defaultInputRecognitionDelay  = 2 * time.Second
	defaultOutputRecognitionDelay = 3 * time.Second
	defaultFailsafeAge            = 30 * time.Second
	defaultFailsafeFrames         = 1500
	defaultMinRecognition         = time.Second
	defaultTickInterval           = 250 * time.Millisecond
	defaultInputSampleRate        = 16000
	defaultOutputSampleRate       = 24000
	defaultResetPacket            = 100 * time.Millisecond
)

// Config tunes voice detection and buffering.
type Config struct {
	HistorySize            int           `yaml:"history_size"`
	ThresholdOffset        float64       `yaml:"threshold_offset"`
	InputRecognitionDelay  time.Duration `yaml:"input_recognition_delay"`
	OutputRecognitionDelay time.Duration `yaml:"output_recognition_delay"`
	FailsafeAge            time.Duration `yaml:"failsafe_age"`
	// FailsafeFrames releases a buffer once it holds more frames than this.
	FailsafeFrames         int           `yaml:"failsafe_frames"`
	MinRecognition         time.Duration `yaml:"min_recognition"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	InputSampleRate        int           `yaml:"input_sample_rate"`
	OutputSampleRate       int           `yaml:"output_sample_rate"`
	// ResetPacket is the length of the silence packet sent after an input flush.
	ResetPacket time.Duration `yaml:"reset_packet"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills zero fields with default values.
func (c Config) WithDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.ThresholdOffset == 0 {
		c.ThresholdOffset = defaultThresholdOffset
	}
	if c.InputRecognitionDelay == 0 {
		c.InputRecognitionDelay = defaultInputRecognitionDelay
	}
	if c.OutputRecognitionDelay == 0 {
		c.OutputRecognitionDelay = defaultOutputRecognitionDelay
	}
	if c.FailsafeAge == 0 {
		c.FailsafeAge = defaultFailsafeAge
	}
	if c.FailsafeFrames <= 0 {
		c.FailsafeFrames = defaultFailsafeFrames
	}
	if c.MinRecognition == 0 {
		c.MinRecognition = defaultMinRecognition
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.InputSampleRate == 0 {
		c.InputSampleRate = defaultInputSampleRate
	}
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = defaultOutputSampleRate
	}
	if c.ResetPacket == 0 {
		c.ResetPacket = defaultResetPacket
	}
	return c
}

// Validate rejects settings that would disable the failsafe.
func (c Config) Validate() error {
	if c.ThresholdOffset < 0 {
		return errors.New("audio threshold_offset must not be negative")
	}
	if c.FailsafeAge < c.InputRecognitionDelay || c.FailsafeAge < c.OutputRecognitionDelay {
		return errors.New("audio failsafe_age must not be shorter than the recognition delays")
	}
	if c.TickInterval <= 0 || c.TickInterval > c.InputRecognitionDelay {
		return errors.New("audio tick_interval must be positive and shorter than the input recognition delay")
	}
	return nil
}

func (c Config) minRecognitionBytes(sampleRate int) int {
	return BytesFor(sampleRate, c.MinRecognition)
}
