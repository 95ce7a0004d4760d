package codeagent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// EchoAgent is a development backend that reports what it was asked to do.
type EchoAgent struct{}

// NewEchoAgent creates a new echo backend
func NewEchoAgent() *EchoAgent {
	return &EchoAgent{}
}

// Run implements repositories.CodeAgent
func (e *EchoAgent) Run(ctx context.Context, req repositories.AgentRequest, onOutput func(string)) (repositories.AgentResult, error) {
	lines := []string{fmt.Sprintf("channel %d: %s", req.Channel, req.Prompt)}
	for _, a := range req.Attachments {
		lines = append(lines, "attached "+filepath.Base(a))
	}
	for _, l := range lines {
		if err := ctx.Err(); err != nil {
			return repositories.AgentResult{}, err
		}
		if onOutput != nil {
			onOutput(l + "\n")
		}
	}
	return repositories.AgentResult{Output: strings.Join(lines, "\n")}, nil
}
