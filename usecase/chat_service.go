package usecase

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/session"
)

// ChatService answers text requests on the chat channel with the chat backend
// selected in the session preferences.
type ChatService struct {
	backends *repositories.Registry[repositories.LargeLanguageModel]
	files    repositories.FileStore
	logger   *zap.Logger
}

// chatState is the per-session conversation kept in the channel state. It is
// rebuilt whenever the provider, model or instructions change.
type chatState struct {
	provider     string
	model        string
	instructions string
	chat         repositories.ChatSession
}

func (c *chatState) matches(p entities.Preferences) bool {
	return c.provider == p.ChatProvider && c.model == p.ChatModel && c.instructions == p.Instructions
}

// NewChatService creates a new chat service
func NewChatService(backends *repositories.Registry[repositories.LargeLanguageModel], files repositories.FileStore, logger *zap.Logger) *ChatService {
	return &ChatService{
		backends: backends,
		files:    files,
		logger:   logger.With(zap.String("component", "chat")),
	}
}

// Handle implements session.Handler.
func (s *ChatService) Handle(ctx context.Context, sess *session.Session, msg domain.Message) error {
	ch := msg.Target()
	text, err := msg.Text()
	if err != nil {
		return err
	}

	chat, err := s.chatFor(ctx, sess, ch)
	if err != nil {
		return err
	}

	request := repositories.ChatMessage{
		Role:        repositories.UserRole,
		Content:     text,
		Attachments: s.attachments(ctx, sess, ch),
	}

	reply, err := chat.SendMessage(ctx, request, func(delta string) {
		sess.SendText(ch, domain.KindOutputStream, delta)
	})
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}

	sess.SendText(ch, domain.KindOutputText, reply.Content)

	s.logger.Debug("Chat reply sent",
		zap.String("sessionID", sess.ID()),
		zap.Int("attachments", len(request.Attachments)),
		zap.Int("replyLength", len(reply.Content)))
	return nil
}

func (s *ChatService) chatFor(ctx context.Context, sess *session.Session, ch entities.ChannelNo) (repositories.ChatSession, error) {
	prefs := sess.Preferences()
	if st, ok := sess.ChannelState(ch).(*chatState); ok && st.matches(prefs) {
		return st.chat, nil
	}

	backend, err := s.backends.Get(prefs.ChatProvider)
	if err != nil {
		return nil, err
	}

	var history []repositories.ChatMessage
	if st, ok := sess.ChannelState(ch).(*chatState); ok && st.provider == prefs.ChatProvider && st.model == prefs.ChatModel {
		// Instructions changed only; keep the conversation.
		history, _ = st.chat.History()
	}

	chat, err := backend.GenerateChat(ctx, history, repositories.ChatOptions{
		Model:        prefs.ChatModel,
		SystemPrompt: prefs.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start chat: %w", err)
	}

	sess.SetChannelState(ch, &chatState{
		provider:     prefs.ChatProvider,
		model:        prefs.ChatModel,
		instructions: prefs.Instructions,
		chat:         chat,
	})
	s.logger.Info("Chat started",
		zap.String("sessionID", sess.ID()),
		zap.String("provider", prefs.ChatProvider),
		zap.String("model", prefs.ChatModel),
		zap.Int("history", len(history)))
	return chat, nil
}

// attachments loads the files uploaded for ch within the hand-off window.
// Files that can no longer be read are skipped.
func (s *ChatService) attachments(ctx context.Context, sess *session.Session, ch entities.ChannelNo) []repositories.Attachment {
	if s.files == nil {
		return nil
	}
	var out []repositories.Attachment
	for _, path := range sess.RecentFiles(ch) {
		data, err := s.files.Read(ctx, path)
		if err != nil {
			s.logger.Warn("Failed to read attachment",
				zap.String("sessionID", sess.ID()),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		out = append(out, repositories.Attachment{
			Path:     path,
			MimeType: mimeTypeOf(path),
			Data:     data,
		})
	}
	return out
}

func mimeTypeOf(path string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if t == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}
