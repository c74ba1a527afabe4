package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const taskDescription = `Delegates a self-contained task to a named subagent and returns its condensed report.
- agent selects a configured subagent
- prompt is the complete instruction; the subagent does not see this conversation
- input_context.files lists project files worth reading first; input_context.notes adds free-form hints
- Subagents cannot delegate further`

var taskSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"agent":  tool.Prop("string", "Name of the subagent to run"),
		"prompt": tool.Prop("string", "Task for the subagent"),
		"input_context": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"files": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":       "object",
						"properties": map[string]any{"path": tool.Prop("string", "Project-relative file path")},
						"required":   []any{"path"},
					},
				},
				"notes": tool.Prop("string", "Extra hints for the subagent"),
			},
		},
	},
	Required: []string{"agent", "prompt"},
}

// TaskRequest is a validated delegation.
type TaskRequest struct {
	Agent  string
	Prompt string
	Files  []string
	Notes  string
}

// TaskRunner executes a delegation on behalf of the calling conversation.
type TaskRunner func(context.Context, TaskRequest) (*tool.ToolResult, error)

// TaskTool hands work to the subagent runtime.
type TaskTool struct {
	sandbox *security.Sandbox
	mu      sync.RWMutex
	runner  TaskRunner
}

// NewTaskTool builds a TaskTool; attach a runner with SetRunner.
func NewTaskTool(sb *security.Sandbox) *TaskTool {
	return &TaskTool{sandbox: sb}
}

func (t *TaskTool) Name() string             { return "Task" }
func (t *TaskTool) Description() string      { return taskDescription }
func (t *TaskTool) Schema() *tool.JSONSchema { return taskSchema }

// SetRunner wires the delegation callback.
func (t *TaskTool) SetRunner(runner TaskRunner) {
	t.mu.Lock()
	t.runner = runner
	t.mu.Unlock()
}

func (t *TaskTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	t.mu.RLock()
	runner := t.runner
	t.mu.RUnlock()
	if runner == nil {
		return nil, errors.New("task runner is not configured")
	}
	req, err := t.parse(params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return runner(ctx, req)
}

func (t *TaskTool) parse(params map[string]any) (TaskRequest, error) {
	agent, err := tool.String(params, "agent")
	if err != nil {
		return TaskRequest{}, err
	}
	prompt, err := tool.String(params, "prompt")
	if err != nil {
		return TaskRequest{}, err
	}
	req := TaskRequest{Agent: strings.TrimSpace(agent), Prompt: prompt}

	raw, ok := params["input_context"]
	if !ok || raw == nil {
		return req, nil
	}
	ic, ok := raw.(map[string]any)
	if !ok {
		return TaskRequest{}, errors.New("input_context must be an object")
	}
	if req.Notes, err = tool.OptionalString(ic, "notes", ""); err != nil {
		return TaskRequest{}, fmt.Errorf("input_context.%w", err)
	}
	files, _ := ic["files"].([]any)
	for i, entry := range files {
		obj, ok := entry.(map[string]any)
		if !ok {
			return TaskRequest{}, fmt.Errorf("input_context.files[%d] must be an object", i)
		}
		path, err := tool.String(obj, "path")
		if err != nil {
			return TaskRequest{}, fmt.Errorf("input_context.files[%d].%w", i, err)
		}
		if t.sandbox != nil {
			if _, err := t.sandbox.Resolve(path); err != nil {
				return TaskRequest{}, err
			}
		}
		req.Files = append(req.Files, path)
	}
	return req, nil
}
