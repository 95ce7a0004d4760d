package usecase

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/session"
)

// OutputFile is the content of an output_file message
type OutputFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// AgentService runs requests on the agent channels with the code-agent backend
// selected in the session preferences.
type AgentService struct {
	backends *repositories.Registry[repositories.CodeAgent]
	logger   *zap.Logger
}

// NewAgentService creates a new agent service
func NewAgentService(backends *repositories.Registry[repositories.CodeAgent], logger *zap.Logger) *AgentService {
	return &AgentService{
		backends: backends,
		logger:   logger.With(zap.String("component", "agent")),
	}
}

// Handle implements session.Handler.
func (s *AgentService) Handle(ctx context.Context, sess *session.Session, msg domain.Message) error {
	ch := msg.Target()
	prompt, err := msg.Text()
	if err != nil {
		return err
	}

	prefs := sess.Preferences()
	backend, err := s.backends.Get(prefs.AgentBackend)
	if err != nil {
		return err
	}

	req := repositories.AgentRequest{
		SessionID:   sess.ID(),
		Channel:     int(ch),
		Prompt:      prompt,
		Model:       prefs.AgentModel,
		Attachments: sess.RecentFiles(ch),
	}

	s.logger.Info("Agent run started",
		zap.String("sessionID", sess.ID()),
		zap.Stringer("channel", ch),
		zap.String("backend", prefs.AgentBackend),
		zap.Int("attachments", len(req.Attachments)))

	result, err := backend.Run(ctx, req, func(chunk string) {
		sess.SendText(ch, domain.KindOutputStream, chunk)
	})
	if err != nil {
		return fmt.Errorf("agent run failed: %w", err)
	}

	sess.SendText(ch, domain.KindOutputText, result.Output)

	for _, path := range result.Files {
		sess.RegisterFile(ch, path)
		out, err := domain.NewObjectMessage(domain.KindOutputFile, ch, OutputFile{
			Name: filepath.Base(path),
			Path: path,
		})
		if err != nil {
			return err
		}
		sess.SendToChannel(ch, out)
	}

	s.logger.Info("Agent run finished",
		zap.String("sessionID", sess.ID()),
		zap.Stringer("channel", ch),
		zap.Int("files", len(result.Files)))
	return nil
}
