package repositories

import "context"

// ToolDispatcher is the name to capability registry invoked on tool-call events
type ToolDispatcher interface {
	Declarations() []ToolDeclaration
	Execute(ctx context.Context, call ToolCall) ToolResult
}

// ToolDeclaration describes a tool to the realtime backend
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter is one argument of a tool
type ToolParameter struct {
	Name        string
	Type        string // string, integer, number, boolean
	Description string
	Required    bool
	Enum        []string
}

// ToolCall is a backend request to run a tool, correlated by ID
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall with the same ID
type ToolResult struct {
	ID     string
	Name   string
	Output map[string]any
	Err    string
}

// Response renders the result as the map sent back to the backend
func (r ToolResult) Response() map[string]any {
	if r.Err != "" {
		return map[string]any{"error": r.Err}
	}
	if r.Output == nil {
		return map[string]any{}
	}
	return r.Output
}
