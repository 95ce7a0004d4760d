package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// ErrUnknownTool is reported for calls naming an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one capability callable by the realtime backend.
type Tool interface {
	Declaration() repositories.ToolDeclaration
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Func adapts a function into a Tool.
type Func struct {
	Decl repositories.ToolDeclaration
	Fn   func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (f Func) Declaration() repositories.ToolDeclaration { return f.Decl }

func (f Func) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f.Fn(ctx, args)
}

// Registry maps tool names to tools and implements repositories.ToolDispatcher.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(logger *zap.Logger, tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With(zap.String("component", "tools")),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool under its declared name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Declaration().Name] = t
}

// With returns a copy of the registry extended with more tools.
func (r *Registry) With(tools ...Tool) *Registry {
	r.mu.RLock()
	out := &Registry{tools: make(map[string]Tool, len(r.tools)+len(tools)), logger: r.logger}
	for name, t := range r.tools {
		out.tools[name] = t
	}
	r.mu.RUnlock()

	for _, t := range tools {
		out.Register(t)
	}
	return out
}

// Declarations lists every tool in name order.
func (r *Registry) Declarations() []repositories.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]repositories.ToolDeclaration, 0, len(r.tools))
	for _, t := range r.tools {
		decls = append(decls, t.Declaration())
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Execute runs the named tool. Failures and panics become error results.
func (r *Registry) Execute(ctx context.Context, call repositories.ToolCall) (result repositories.ToolResult) {
	result = repositories.ToolResult{ID: call.ID, Name: call.Name}

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		result.Err = fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name)
		r.logger.Warn("Unknown tool called", zap.String("tool", call.Name))
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			result.Output = nil
			result.Err = fmt.Sprintf("tool panicked: %v", p)
			r.logger.Error("Tool panicked", zap.String("tool", call.Name), zap.Any("panic", p))
		}
	}()

	if err := validateArgs(t.Declaration(), call.Args); err != nil {
		result.Err = err.Error()
		return result
	}

	out, err := t.Execute(ctx, call.Args)
	if err != nil {
		result.Err = err.Error()
		r.logger.Warn("Tool failed", zap.String("tool", call.Name), zap.Error(err))
		return result
	}
	result.Output = out
	r.logger.Info("Tool executed", zap.String("tool", call.Name), zap.String("callID", call.ID))
	return result
}

func validateArgs(decl repositories.ToolDeclaration, args map[string]any) error {
	for _, p := range decl.Parameters {
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Errorf("missing required argument %q", p.Name)
			}
		}
	}
	return nil
}

// StringArg reads a string argument, returning "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg reads an integer argument that may arrive as a JSON number.
func IntArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}
