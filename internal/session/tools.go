package session

import (
	"context"
	"fmt"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
	"github.com/satriahrh/kanal/server/internal/tools"
)

// sessionTools are the tools bound to one session: they let the live model
// hand work to an agent channel and see what the user attached.
func sessionTools(s *Session) []tools.Tool {
	return []tools.Tool{
		tools.Func{
			Decl: repositories.ToolDeclaration{
				Name:        "dispatch_agent",
				Description: "Send a task to a coding agent channel. The agent answers on that channel.",
				Parameters: []repositories.ToolParameter{
					{Name: "channel", Type: "integer", Description: "Agent channel, 1 to 4", Required: true},
					{Name: "prompt", Type: "string", Description: "What the agent should do", Required: true},
				},
			},
			Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				n, ok := tools.IntArg(args, "channel")
				ch := entities.ChannelNo(n)
				if !ok || !ch.IsAgent() {
					return nil, fmt.Errorf("channel must be between 1 and 4")
				}
				prompt := tools.StringArg(args, "prompt")
				if prompt == "" {
					return nil, fmt.Errorf("prompt must not be empty")
				}

				queued, err := s.Dispatch(ch, domain.NewTextMessage(domain.KindInputText, ch, prompt))
				if err != nil {
					return nil, err
				}
				return map[string]any{"channel": n, "queued": queued}, nil
			},
		},
		tools.Func{
			Decl: repositories.ToolDeclaration{
				Name:        "recent_files",
				Description: "List files the user attached recently for a channel.",
				Parameters: []repositories.ToolParameter{
					{Name: "channel", Type: "integer", Description: "Channel the files were sent for, 0 to 4", Required: true},
				},
			},
			Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				n, _ := tools.IntArg(args, "channel")
				ch := entities.ChannelNo(n)
				if !ch.IsOutput() {
					return nil, fmt.Errorf("channel must be between 0 and 4")
				}
				files := s.RecentFiles(ch)
				if files == nil {
					files = []string{}
				}
				return map[string]any{"files": files}, nil
			},
		},
	}
}
