package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"imagetool/internal/domain"
)

// ErrUnknownTool is returned by Get and Call for names that were never registered.
var ErrUnknownTool = errors.New("unknown tool")

// ToolRegistry holds SchemaTool implementations keyed by name. Hosts use it
// to enumerate tool definitions and dispatch calls. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]SchemaTool
}

// NewToolRegistry returns an empty, ready-to-use registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]SchemaTool)}
}

// Register adds a tool. Returns an error if the tool is nil or a tool with the
// same name is already registered.
func (r *ToolRegistry) Register(tool SchemaTool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the tool with the given name or an error if not found.
func (r *ToolRegistry) Get(name string) (SchemaTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []SchemaTool {
	r.mu.RLock()
	out := make([]SchemaTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns domain.ToolDefinition for every registered tool,
// suitable for passing to an LLM function-calling API.
func (r *ToolRegistry) Definitions() []domain.ToolDefinition {
	tools := r.List()
	out := make([]domain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.Definition()),
		})
	}
	return out
}

// Call looks up the named tool and runs it with args.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (*domain.ToolResult, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Call(ctx, args)
}
