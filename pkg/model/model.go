package model

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation history. Assistant messages may
// carry tool calls; tool messages carry the result for exactly one call,
// identified by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	// Pinned messages are never folded into a compaction summary.
	Pinned bool `json:"pinned,omitempty"`
}

// Size is the character weight used for the context budget.
func (m Message) Size() int {
	n := len(m.Content)
	for _, call := range m.ToolCalls {
		n += len(call.Name) + len(encodeArgs(call.Arguments))
	}
	return n
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolDefinition is the schema advertised to the backend for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is a single backend round trip.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Response is the assistant turn returned by a backend. Tool calls keep the
// order the model emitted them in.
type Response struct {
	Message    Message
	Usage      TokenUsage
	StopReason string
}

// Backend is the capability the conversation loop uses to reach a model.
// Errors should be *BackendError so the loop can tell transient failures
// from permanent ones.
type Backend interface {
	Name() string
	Send(ctx context.Context, req Request) (*Response, error)
}

// BackendFunc adapts a function to Backend. Handy for tests and scripted runs.
type BackendFunc struct {
	ID string
	Fn func(context.Context, Request) (*Response, error)
}

func (b BackendFunc) Name() string { return b.ID }

func (b BackendFunc) Send(ctx context.Context, req Request) (*Response, error) {
	return b.Fn(ctx, req)
}
