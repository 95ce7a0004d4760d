package repositories

import "context"

// CodeAgent runs one request on an external code-agent backend
type CodeAgent interface {
	// Run executes the request, calling onOutput for each chunk of progress output
	Run(ctx context.Context, req AgentRequest, onOutput func(string)) (AgentResult, error)
}

// AgentRequest is the input of a code-agent run
type AgentRequest struct {
	SessionID   string
	Channel     int
	Prompt      string
	Model       string
	Attachments []string
}

// AgentResult is the outcome of a code-agent run
type AgentResult struct {
	Output string
	// Files lists paths produced by the run
	Files []string
}
