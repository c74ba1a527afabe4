package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/model"
)

// Registry keeps the mapping between tool names and implementations.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator Validator
}

// NewRegistry creates a registry backed by the default validator.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), validator: DefaultValidator{}}
}

// Register inserts a tool when its name is not in use.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool. Used when an MCP server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, failure.New(failure.KindNotFound, "tool %s not found", name)
	}
	return tool, nil
}

// Names lists registered tools sorted by name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetValidator swaps the validator used before execution.
func (r *Registry) SetValidator(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// Validate checks params against the named tool's schema.
func (r *Registry) Validate(tool Tool, params map[string]any) error {
	schema := tool.Schema()
	if schema == nil {
		return nil
	}
	r.mu.RLock()
	v := r.validator
	r.mu.RUnlock()
	if v == nil {
		return nil
	}
	return v.Validate(params, schema)
}

// Execute validates and runs a tool without any policy checks. The
// executor is the only production caller.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*ToolResult, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(tool, params); err != nil {
		return nil, failure.Wrap(failure.KindInvalidArgument, err, "tool %s", name)
	}
	return tool.Execute(ctx, params)
}

// Definitions returns backend tool definitions for the names in set that
// are registered, sorted by name.
func (r *Registry) Definitions(set Set) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []model.ToolDefinition
	for _, name := range set.Names() {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Schema().Map(),
		})
	}
	return defs
}

// Schemas renders Definitions in the function-calling wire format.
func (r *Registry) Schemas(set Set) []map[string]any {
	defs := r.Definitions(set)
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
	}
	return out
}
