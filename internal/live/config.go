package live

import (
	"errors"
	"time"
)

const (
	defaultMaxRetries        = 5
	defaultBackoff           = 5 * time.Second
	defaultKeepaliveInterval = 60 * time.Second
	defaultReceiveTimeout    = 5 * time.Second
	defaultHeartbeatInterval = time.Second
	defaultNoiseDuration     = 200 * time.Millisecond
	defaultNoiseAmplitude    = 64
	fallbackNoiseRate        = 16000
)

// Config tunes the reconnect loop and keepalive.
type Config struct {
	MaxRetries        int           `yaml:"max_retries"`
	Backoff           time.Duration `yaml:"backoff"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReceiveTimeout    time.Duration `yaml:"receive_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	NoiseDuration     time.Duration `yaml:"noise_duration"`
	NoiseAmplitude    int           `yaml:"noise_amplitude"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills zero fields with default values.
func (c Config) WithDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff == 0 {
		c.Backoff = defaultBackoff
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.NoiseDuration == 0 {
		c.NoiseDuration = defaultNoiseDuration
	}
	if c.NoiseAmplitude == 0 {
		c.NoiseAmplitude = defaultNoiseAmplitude
	}
	return c
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if c.Backoff < 0 || c.ReceiveTimeout < 0 || c.HeartbeatInterval < 0 {
		return errors.New("live durations must not be negative")
	}
	if c.HeartbeatInterval > c.KeepaliveInterval {
		return errors.New("live heartbeat_interval must not exceed keepalive_interval")
	}
	if c.NoiseAmplitude < 0 || c.NoiseAmplitude > 1000 {
		return errors.New("live noise_amplitude must be between 0 and 1000")
	}
	return nil
}
