package session

import (
	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/audio"
	"github.com/satriahrh/kanal/server/internal/live"
)

// liveSink routes live worker events to channel 0.
type liveSink struct {
	s *Session
}

func (k liveSink) OnAudio(pcm []byte) {
	if k.s.outputPaused.Load() {
		k.s.env.Metrics.FrameDropped(entities.ChannelChat.String())
		return
	}
	k.s.pipeline.OnFrame(audio.Output, pcm)
	k.s.SendToChannel(entities.ChannelChat, domain.NewBinaryMessage(domain.KindOutputAudio, entities.ChannelChat, pcm))
}

func (k liveSink) OnText(text string) {
	k.s.turnMu.Lock()
	k.s.turnText.WriteString(text)
	k.s.turnMu.Unlock()

	k.s.SendText(entities.ChannelChat, domain.KindOutputStream, text)
}

func (k liveSink) OnTurnComplete() {
	k.s.turnMu.Lock()
	text := k.s.turnText.String()
	k.s.turnText.Reset()
	k.s.turnMu.Unlock()

	if text != "" {
		k.s.SendText(entities.ChannelChat, domain.KindOutputText, text)
	}
	// a client-side cancel holds output until the next turn
	if k.s.pipeline.State(audio.Input) == audio.Idle {
		k.s.outputPaused.Store(false)
	}
}

func (k liveSink) OnInterrupted() {
	k.s.SendText(entities.ChannelChat, domain.KindCancelAudio, "interrupted")
}

func (k liveSink) OnToolResult(call repositories.ToolCall, result repositories.ToolResult) {
	msg, err := domain.NewObjectMessage(domain.KindOperations, entities.ChannelChat, domain.ToolEvent{
		CallID: call.ID,
		Name:   call.Name,
		Args:   call.Args,
		Result: result.Output,
		Error:  result.Err,
	})
	if err != nil {
		k.s.logger.Warn("Failed to encode tool event", zap.String("tool", call.Name), zap.Error(err))
		return
	}
	k.s.SendToChannel(entities.ChannelChat, msg)
}

func (k liveSink) OnStateChange(state live.State, retryCount int) {
	k.s.env.Metrics.LiveState(state.String())
	k.s.notifyUpdate()
}

func (k liveSink) OnTerminal(err error) {
	k.s.env.Metrics.LiveTerminal()
	k.s.SendError(entities.ChannelChat, "live_unavailable",
		"Live session stopped after repeated failures, send live_restart to try again", err)
}
