// Package config loads hub configuration from defaults, an optional YAML file,
// a .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/audio"
	"github.com/satriahrh/kanal/server/internal/live"
	"github.com/satriahrh/kanal/server/internal/session"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Log       LogConfig            `yaml:"log"`
	Audio     audio.Config         `yaml:"audio"`
	Live      live.Config          `yaml:"live"`
	Session   session.Config       `yaml:"session"`
	Store     StoreConfig          `yaml:"store"`
	Providers ProvidersConfig      `yaml:"providers"`
	Auth      AuthConfig           `yaml:"auth"`
	Defaults  entities.Preferences `yaml:"defaults"`
}

// ServerConfig holds HTTP and websocket transport settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// StoreConfig selects and configures the preference store.
type StoreConfig struct {
	Kind          string        `yaml:"kind"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	FilesDir      string        `yaml:"files_dir"`
}

// ProvidersConfig holds backend credentials and defaults.
type ProvidersConfig struct {
	GeminiAPIKey    string   `yaml:"gemini_api_key"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	OpenAIBaseURL   string   `yaml:"openai_base_url"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	GoogleSpeech    bool     `yaml:"google_speech"`
	AgentCommand    []string `yaml:"agent_command"`
	AgentWorkDir    string   `yaml:"agent_work_dir"`
}

// AuthConfig controls session resume tokens.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Default returns a configuration that runs without any external service.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load builds the configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config without consulting the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Server.Port)
	str("KANAL_LOG_LEVEL", &c.Log.Level)
	str("KANAL_STORE", &c.Store.Kind)
	str("MONGODB_URI", &c.Store.MongoURI)
	str("MONGODB_DATABASE", &c.Store.MongoDatabase)
	str("REDIS_ADDR", &c.Store.RedisAddr)
	str("REDIS_PASSWORD", &c.Store.RedisPassword)
	str("KANAL_FILES_DIR", &c.Store.FilesDir)
	str("GEMINI_API_KEY", &c.Providers.GeminiAPIKey)
	str("OPENAI_API_KEY", &c.Providers.OpenAIAPIKey)
	str("OPENAI_BASE_URL", &c.Providers.OpenAIBaseURL)
	str("ANTHROPIC_API_KEY", &c.Providers.AnthropicAPIKey)
	str("JWT_SECRET", &c.Auth.Secret)

	if v, ok := lookup("KANAL_AUTH_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: KANAL_AUTH_ENABLED: %w", err)
		}
		c.Auth.Enabled = b
	}
	if v, ok := lookup("KANAL_AGENT_COMMAND"); ok && v != "" {
		c.Providers.AgentCommand = strings.Fields(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 256
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = 8 << 20
	}
	if c.Server.WriteWait == 0 {
		c.Server.WriteWait = 10 * time.Second
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.Audio = c.Audio.WithDefaults()
	c.Live = c.Live.WithDefaults()
	c.Session = c.Session.WithDefaults()

	if c.Store.Kind == "" {
		c.Store.Kind = StoreMemory
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = "kanal"
	}
	if c.Store.TTL == 0 {
		c.Store.TTL = entities.DefaultSessionTTL
	}
	if c.Store.FilesDir == "" {
		c.Store.FilesDir = os.TempDir() + "/kanal-files"
	}
	if c.Providers.AgentWorkDir == "" {
		c.Providers.AgentWorkDir = os.TempDir() + "/kanal-agent"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = entities.DefaultSessionTTL
	}

	if c.Defaults.ChatProvider == "" {
		c.Defaults.ChatProvider = "echo"
	}
	if c.Defaults.AgentBackend == "" {
		c.Defaults.AgentBackend = "echo"
		if len(c.Providers.AgentCommand) > 0 {
			c.Defaults.AgentBackend = "cli"
		}
	}
	if c.Defaults.LiveProvider == "" {
		c.Defaults.LiveProvider = "echo"
	}
	if c.Defaults.Language == "" {
		c.Defaults.Language = "en-US"
	}
}

func (c *Config) validate() error {
	var errs []string

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Sprintf("server.port %q is not a number", c.Server.Port))
	}
	if c.Server.SendBuffer < 1 {
		errs = append(errs, "server.send_buffer must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, "store.mongo_uri is required for the mongo store")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.kind %q is not one of memory, mongo, redis", c.Store.Kind))
	}

	if c.Auth.Enabled && len(c.Auth.Secret) < 16 {
		errs = append(errs, "auth.secret must be at least 16 bytes when auth is enabled")
	}

	for _, v := range []interface{ Validate() error }{c.Audio, c.Live, c.Session} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
