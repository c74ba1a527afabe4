package toolbuiltin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const writeDescription = "Writes a file inside the project root, creating parent directories and replacing any existing content."

var writeSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"path":    tool.Prop("string", "File path relative to the project root"),
		"content": tool.Prop("string", "Full file content"),
	},
	Required: []string{"path", "content"},
}

// WriteTool creates or overwrites files.
type WriteTool struct {
	files fileAccess
}

// NewWriteTool builds a WriteTool confined to sb.
func NewWriteTool(sb *security.Sandbox) *WriteTool {
	return &WriteTool{files: newFileAccess(sb)}
}

func (w *WriteTool) Name() string             { return "Write" }
func (w *WriteTool) Description() string      { return writeDescription }
func (w *WriteTool) Schema() *tool.JSONSchema { return writeSchema }
func (w *WriteTool) PathParams() []string     { return []string{"path"} }

func (w *WriteTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	path, err := w.files.resolve(params, "path")
	if err != nil {
		return nil, err
	}
	content, ok := params["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content must be a string")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", w.files.sandbox.Rel(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", w.files.sandbox.Rel(path), err)
	}
	rel := w.files.sandbox.Rel(path)
	return &tool.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), rel),
		Data:    map[string]any{"path": rel, "bytes": len(content), "sha256": sha256Hex([]byte(content))},
	}, nil
}
