// Package tool defines the tool capability, its registry and the executor
// that guards every call with the sandbox and the policy engine.
package tool

import "context"

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name is the unique identifier the model calls the tool by.
	Name() string
	Description() string
	// Schema describes the parameters. Nil means no input.
	Schema() *JSONSchema
	Execute(ctx context.Context, params map[string]any) (*ToolResult, error)
}

// ToolResult is what a tool hands back to the executor.
type ToolResult struct {
	Success   bool
	Output    string
	Truncated bool
	// Data carries structured output for callers that want more than text,
	// e.g. the Edit tool's hashes or a subagent result.
	Data any
}

// PathTool is implemented by tools whose "path" parameter names a file or
// directory inside the sandbox.
type PathTool interface {
	PathParams() []string
}
