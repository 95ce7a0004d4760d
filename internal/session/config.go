package session

import (
	"errors"
	"time"
)

const (
	defaultFileWindow         = 60 * time.Second
	defaultFileRetention      = 10 * time.Minute
	defaultErrorRearm         = 15 * time.Second
	defaultIdleRetention      = 30 * time.Minute
	defaultCleanupInterval    = time.Minute
	defaultShards             = 32
	defaultTranscriptHistory  = 50
	defaultRecognitionTimeout = 30 * time.Second
	defaultPersistTimeout     = 5 * time.Second
)

// Config tunes session lifetime and bookkeeping.
type Config struct {
	FileWindow         time.Duration `yaml:"file_window"`
	FileRetention      time.Duration `yaml:"file_retention"`
	ErrorRearm         time.Duration `yaml:"error_rearm"`
	IdleRetention      time.Duration `yaml:"idle_retention"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	Shards             int           `yaml:"shards"`
	TranscriptHistory  int           `yaml:"transcript_history"`
	RecognitionTimeout time.Duration `yaml:"recognition_timeout"`
	PersistTimeout     time.Duration `yaml:"persist_timeout"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills zero fields with default values.
func (c Config) WithDefaults() Config {
	if c.FileWindow == 0 {
		c.FileWindow = defaultFileWindow
	}
	if c.FileRetention == 0 {
		c.FileRetention = defaultFileRetention
	}
	if c.ErrorRearm == 0 {
		c.ErrorRearm = defaultErrorRearm
	}
	if c.IdleRetention == 0 {
		c.IdleRetention = defaultIdleRetention
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.Shards <= 0 {
		c.Shards = defaultShards
	}
	if c.TranscriptHistory <= 0 {
		c.TranscriptHistory = defaultTranscriptHistory
	}
	if c.RecognitionTimeout == 0 {
		c.RecognitionTimeout = defaultRecognitionTimeout
	}
	if c.PersistTimeout == 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	return c
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if c.FileRetention < c.FileWindow {
		return errors.New("session file_retention must not be shorter than file_window")
	}
	if c.ErrorRearm < 0 || c.IdleRetention < 0 || c.CleanupInterval < 0 {
		return errors.New("session durations must not be negative")
	}
	return nil
}
