package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/kanal/server/adapters/codeagent"
	"github.com/satriahrh/kanal/server/adapters/files"
	"github.com/satriahrh/kanal/server/adapters/live"
	"github.com/satriahrh/kanal/server/adapters/llm"
	"github.com/satriahrh/kanal/server/adapters/memory"
	"github.com/satriahrh/kanal/server/adapters/mongo"
	"github.com/satriahrh/kanal/server/adapters/redis"
	"github.com/satriahrh/kanal/server/adapters/stt"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/api"
	"github.com/satriahrh/kanal/server/internal/auth"
	"github.com/satriahrh/kanal/server/internal/config"
	"github.com/satriahrh/kanal/server/internal/metrics"
	"github.com/satriahrh/kanal/server/internal/session"
	"github.com/satriahrh/kanal/server/internal/tools"
	"github.com/satriahrh/kanal/server/internal/websocket"
	"github.com/satriahrh/kanal/server/usecase"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector("kanal", logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fileStore, err := files.NewLocalStore(cfg.Store.FilesDir, logger)
	if err != nil {
		return err
	}

	recognizer, closeRecognizer, err := newRecognizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRecognizer()

	// Backends are built on first use, so a missing key only fails the
	// sessions that select that provider.
	chatBackends := chatRegistry(ctx, cfg, logger)
	agentBackends := agentRegistry(cfg, logger)
	realtime := realtimeRegistry(ctx, cfg, logger)

	var issuer *auth.Issuer
	if cfg.Auth.Enabled {
		issuer = auth.NewIssuer([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	}

	registry := session.NewRegistry(ctx, session.Env{
		Config: cfg.Session,
		Audio:  cfg.Audio,
		Live:   cfg.Live,
		Handlers: session.Handlers{
			Chat:  usecase.NewChatService(chatBackends, fileStore, logger),
			Agent: usecase.NewAgentService(agentBackends, logger),
		},
		Realtime:   realtime,
		Tools:      tools.NewRegistry(logger, tools.CurrentTime(time.Now)),
		Recognizer: recognizer,
		Files:      fileStore,
		Store:      store,
		Defaults:   cfg.Defaults,
		Metrics:    collector,
		Logger:     logger,
	})

	hub := websocket.NewHub(ctx, registry, issuer, websocket.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Server.SendBuffer,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		WriteWait:      cfg.Server.WriteWait,
		PongWait:       cfg.Server.PongWait,
	}, logger)

	cleanup := websocket.NewSessionCleanupService(registry, store,
		cfg.Session.CleanupInterval, cfg.Session.IdleRetention, logger).
		WithFilePruner(fileStore, cfg.Store.TTL)
	cleanup.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))

	api.InitRoutes(e, api.Deps{
		Hub:      hub,
		Registry: registry,
		Issuer:   issuer,
		Metrics:  collector,
		Version:  Version,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Kind),
			zap.Strings("chat", chatBackends.Names()),
			zap.Strings("live", realtime.Names()),
			zap.Strings("agents", agentBackends.Names()))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		cleanup.Stop()
		registry.Shutdown(shutdownCtx)
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SessionRepository, func(), error) {
	switch cfg.Store.Kind {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := mongo.NewSessionRepository(client.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Close(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Close(context.Background()) }, nil

	case config.StoreRedis:
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.Store.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := redis.NewSessionRepository(client, cfg.Store.TTL, logger)
		return repo, func() { _ = client.Close() }, nil

	default:
		return memory.NewSessionRepository(), func() {}, nil
	}
}

func newRecognizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.SpeechToText, func(), error) {
	if !cfg.Providers.GoogleSpeech {
		return stt.NewMockSpeechToText(logger), func() {}, nil
	}
	google, err := stt.NewGoogleSpeechToText(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	return google, func() { _ = google.Close() }, nil
}

func chatRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) *repositories.Registry[repositories.LargeLanguageModel] {
	backends := repositories.NewRegistry[repositories.LargeLanguageModel]()
	backends.Register("echo", func() (repositories.LargeLanguageModel, error) {
		return llm.NewEchoLLM(), nil
	})

	p := cfg.Providers
	if p.GeminiAPIKey != "" {
		backends.Register("gemini", func() (repositories.LargeLanguageModel, error) {
			return llm.NewGeminiLLM(ctx, llm.GeminiConfig{APIKey: p.GeminiAPIKey}, logger)
		})
	}
	if p.OpenAIAPIKey != "" || p.OpenAIBaseURL != "" {
		backends.Register("openai", func() (repositories.LargeLanguageModel, error) {
			return llm.NewOpenAILLM(llm.OpenAIConfig{APIKey: p.OpenAIAPIKey, BaseURL: p.OpenAIBaseURL}, logger)
		})
	}
	if p.AnthropicAPIKey != "" {
		backends.Register("anthropic", func() (repositories.LargeLanguageModel, error) {
			return llm.NewAnthropicLLM(llm.AnthropicConfig{APIKey: p.AnthropicAPIKey}, logger)
		})
	}
	return backends
}

func realtimeRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) *repositories.Registry[repositories.RealtimeBackend] {
	backends := repositories.NewRegistry[repositories.RealtimeBackend]()
	backends.Register("echo", func() (repositories.RealtimeBackend, error) {
		return live.NewEchoBackend(), nil
	})
	if key := cfg.Providers.GeminiAPIKey; key != "" {
		backends.Register("gemini", func() (repositories.RealtimeBackend, error) {
			return live.NewGeminiBackend(ctx, live.GeminiConfig{APIKey: key}, logger)
		})
	}
	return backends
}

func agentRegistry(cfg *config.Config, logger *zap.Logger) *repositories.Registry[repositories.CodeAgent] {
	backends := repositories.NewRegistry[repositories.CodeAgent]()
	backends.Register("echo", func() (repositories.CodeAgent, error) {
		return codeagent.NewEchoAgent(), nil
	})
	if len(cfg.Providers.AgentCommand) > 0 {
		backends.Register("cli", func() (repositories.CodeAgent, error) {
			return codeagent.NewCLIAgent(codeagent.CLIConfig{
				Command: cfg.Providers.AgentCommand,
				WorkDir: cfg.Providers.AgentWorkDir,
			}, logger)
		})
	}
	return backends
}
