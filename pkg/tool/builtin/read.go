package toolbuiltin

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const (
	readDefaultLineLimit = 2000
	readMaxLineLength    = 2000
	readDescription      = `Reads a text file inside the project root.
- path is relative to the project root
- Reads up to 2000 lines by default; use offset (1-based) and limit for long files
- Lines longer than 2000 characters are truncated
- Output uses cat -n format with line numbers starting at 1`
)

var readSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"path":   tool.Prop("string", "File path relative to the project root"),
		"offset": tool.Prop("integer", "First line to read (1-based)"),
		"limit":  tool.Prop("integer", "Maximum number of lines to read"),
	},
	Required: []string{"path"},
}

// ReadTool returns numbered file contents.
type ReadTool struct {
	files fileAccess
}

// NewReadTool builds a ReadTool confined to sb.
func NewReadTool(sb *security.Sandbox) *ReadTool {
	return &ReadTool{files: newFileAccess(sb)}
}

func (r *ReadTool) Name() string             { return "Read" }
func (r *ReadTool) Description() string      { return readDescription }
func (r *ReadTool) Schema() *tool.JSONSchema { return readSchema }
func (r *ReadTool) PathParams() []string     { return []string{"path"} }

func (r *ReadTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	path, err := r.files.resolve(params, "path")
	if err != nil {
		return nil, err
	}
	offset, err := tool.Int(params, "offset", 1)
	if err != nil {
		return nil, err
	}
	if offset < 1 {
		offset = 1
	}
	limit, err := tool.Int(params, "limit", readDefaultLineLimit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = readDefaultLineLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := r.files.readText(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	rel := r.files.sandbox.Rel(path)
	if offset > len(lines) {
		return &tool.ToolResult{
			Success: true,
			Output:  fmt.Sprintf("no content in requested range (file has %d lines)", len(lines)),
			Data:    map[string]any{"path": rel, "total_lines": len(lines)},
		}, nil
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > readMaxLineLength {
			line = line[:readMaxLineLength] + "..."
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return &tool.ToolResult{
		Success:   true,
		Output:    b.String(),
		Truncated: end < len(lines),
		Data:      map[string]any{"path": rel, "total_lines": len(lines), "returned_lines": end - offset + 1},
	}, nil
}
