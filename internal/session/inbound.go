package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/internal/audio"
	"github.com/satriahrh/kanal/server/internal/live"
)

// HandleInbound routes one client message received on ch.
func (s *Session) HandleInbound(ctx context.Context, ch entities.ChannelNo, msg domain.Message) {
	s.touch()
	s.env.Metrics.Message(ch.String(), string(msg.Kind), "in")

	switch msg.Kind {
	case domain.KindInputAudio:
		if ch != entities.ChannelVoice {
			s.SendError(ch, "invalid_channel", "Audio is only accepted on the voice channel", nil)
			return
		}
		pcm, err := msg.Bytes()
		if err != nil {
			s.SendError(ch, "invalid_content", "Audio content must be base64", err)
			return
		}
		s.HandleAudio(ctx, pcm)

	case domain.KindInputText:
		s.handleText(ch, msg)

	case domain.KindInputFile, domain.KindInputImage:
		s.handleAttachment(ctx, ch, msg)

	case domain.KindCancelAudio:
		s.outputPaused.Store(true)
		s.SendText(entities.ChannelChat, domain.KindCancelAudio, "client")

	case domain.KindOperations:
		if ch != entities.ChannelControl {
			s.SendError(ch, "invalid_channel", "Operations are only accepted on the control channel", nil)
			return
		}
		s.handleOperation(ctx, msg)

	default:
		s.SendError(ch, "unsupported_kind", fmt.Sprintf("Kind %q is not accepted from clients", msg.Kind), nil)
	}
}

// HandleAudio feeds one input PCM16 frame to the pipeline and the live session.
func (s *Session) HandleAudio(ctx context.Context, pcm []byte) {
	s.touch()
	s.pipeline.OnFrame(audio.Input, pcm)

	w := s.liveWorker()
	if w == nil {
		return
	}
	if err := w.SendAudio(ctx, pcm); err != nil && !errors.Is(err, live.ErrNotConnected) {
		s.fault("live_audio", err)
	}
}

func (s *Session) handleText(ch entities.ChannelNo, msg domain.Message) {
	target := ch
	switch ch {
	case entities.ChannelVoice:
		s.SendError(ch, "invalid_channel", "Text is not accepted on the voice channel", nil)
		return
	case entities.ChannelControl:
		if msg.OutputChannel == nil {
			s.SendError(ch, "missing_output_channel", "Requests on the control channel need output_channel", nil)
			return
		}
		target = *msg.OutputChannel
	default:
		if msg.OutputChannel != nil && *msg.OutputChannel != ch {
			s.SendError(ch, "invalid_output_channel", "Only the control channel may redirect requests", nil)
			return
		}
	}

	if _, err := s.Dispatch(target, msg); err != nil {
		s.SendError(ch, "dispatch_failed", "Request could not be queued", err)
	}
}

func (s *Session) handleAttachment(ctx context.Context, ch entities.ChannelNo, msg domain.Message) {
	data, err := msg.Bytes()
	if err != nil {
		s.SendError(ch, "invalid_content", "Attachment content must be base64", err)
		return
	}

	target := ch
	if msg.OutputChannel != nil {
		target = *msg.OutputChannel
	}
	if target != entities.ChannelControl && !target.IsOutput() {
		s.SendError(ch, "invalid_channel", "Attachments must target the control channel or an output channel", nil)
		return
	}

	if msg.Kind == domain.KindInputImage {
		if w := s.liveWorker(); w != nil && target == entities.ChannelChat {
			if err := w.SendImage(ctx, msg.MimeType, data); err != nil && !errors.Is(err, live.ErrNotConnected) {
				s.fault("live_image", err)
			}
		}
	}

	if s.env.Files == nil {
		s.SendError(ch, "storage_unavailable", "File storage is not configured", nil)
		return
	}

	name := filepath.Base(msg.FileName)
	if name == "." || name == string(filepath.Separator) {
		name = string(msg.Kind)
	}
	path, err := s.env.Files.Save(ctx, s.id, name, data)
	if err != nil {
		s.logger.Error("Failed to store attachment", zap.String("file", name), zap.Error(err))
		s.SendError(ch, "storage_failed", "Attachment could not be stored", err)
		return
	}

	s.RegisterFile(target, path)
	s.logger.Info("Attachment registered",
		zap.Stringer("channel", target),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	s.SendText(ch, domain.KindOutputText, fmt.Sprintf("Received %s", name))
}

func (s *Session) handleOperation(ctx context.Context, msg domain.Message) {
	var op domain.Operation
	if err := msg.Decode(&op); err != nil {
		s.SendError(entities.ChannelControl, "invalid_content", "Operation content is malformed", err)
		return
	}

	switch op.Op {
	case domain.OpSetPreferences:
		if op.Preferences == nil {
			s.SendError(entities.ChannelControl, "invalid_content", "set_preferences needs preferences", nil)
			return
		}
		s.SetPreferences(*op.Preferences)
		s.persist(ctx)
		s.notifyUpdate()

	case domain.OpLiveStart:
		s.StartLive()
		s.persist(ctx)
		s.notifyUpdate()

	case domain.OpLiveStop:
		s.StopLive()
		s.persist(ctx)
		s.notifyUpdate()

	case domain.OpLiveRestart:
		s.RestartLive()
		s.notifyUpdate()

	case domain.OpStatus:
		s.notifyUpdate()

	case domain.OpCloseSession:
		if s.owner == nil {
			return
		}
		go func() {
			if err := s.owner.Close(context.WithoutCancel(ctx), s.id); err != nil {
				s.logger.Warn("Failed to close session", zap.Error(err))
			}
		}()

	default:
		s.SendError(entities.ChannelControl, "unsupported_operation", fmt.Sprintf("Unknown operation %q", op.Op), nil)
	}
}

func (s *Session) persist(ctx context.Context) {
	if s.owner == nil {
		return
	}
	if err := s.owner.save(ctx, s); err != nil {
		s.fault("persist", err)
	}
}
