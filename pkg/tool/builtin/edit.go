package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const editDescription = `Edits a file with exact find/replace pairs applied in order.
- count 0 replaces every occurrence, default 1
- Fails when no edit matched`

var editSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"path": tool.Prop("string", "File path relative to the project root"),
		"edits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"find":    tool.Prop("string", "Exact text to find"),
					"replace": tool.Prop("string", "Replacement text"),
					"count":   tool.Prop("integer", "Times to replace (0 = all, default 1)"),
				},
				"required": []any{"find", "replace"},
			},
		},
	},
	Required: []string{"path", "edits"},
}

// EditTool applies find/replace edits.
type EditTool struct {
	files fileAccess
}

// NewEditTool builds an EditTool confined to sb.
func NewEditTool(sb *security.Sandbox) *EditTool {
	return &EditTool{files: newFileAccess(sb)}
}

func (e *EditTool) Name() string             { return "Edit" }
func (e *EditTool) Description() string      { return editDescription }
func (e *EditTool) Schema() *tool.JSONSchema { return editSchema }
func (e *EditTool) PathParams() []string     { return []string{"path"} }

type editOp struct {
	find    string
	replace string
	count   int
}

// EditSummary is attached as result data.
type EditSummary struct {
	Path         string `json:"path"`
	Applied      int    `json:"applied"`
	BeforeSHA256 string `json:"before_sha256"`
	AfterSHA256  string `json:"after_sha256"`
}

func (e *EditTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	path, err := e.files.resolve(params, "path")
	if err != nil {
		return nil, err
	}
	ops, err := parseEdits(params["edits"])
	if err != nil {
		return nil, err
	}
	original, err := e.files.readText(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := original
	applied := 0
	for _, op := range ops {
		n := strings.Count(content, op.find)
		if op.count > 0 && n > op.count {
			n = op.count
		}
		if n == 0 {
			continue
		}
		content = strings.Replace(content, op.find, op.replace, n)
		applied += n
	}
	summary := EditSummary{
		Path:         e.files.sandbox.Rel(path),
		Applied:      applied,
		BeforeSHA256: sha256Hex([]byte(original)),
	}
	if applied == 0 {
		summary.AfterSHA256 = summary.BeforeSHA256
		return &tool.ToolResult{Success: false, Output: "no edits applied: find text not found in " + summary.Path, Data: summary}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("write %s: %w", summary.Path, err)
	}
	summary.AfterSHA256 = sha256Hex([]byte(content))
	return &tool.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("applied %d replacement(s) to %s", applied, summary.Path),
		Data:    summary,
	}, nil
}

func parseEdits(raw any) ([]editOp, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, errors.New("edits must be a non-empty array")
	}
	ops := make([]editOp, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("edits[%d] must be an object", i)
		}
		find, _ := obj["find"].(string)
		if find == "" {
			return nil, fmt.Errorf("edits[%d].find must be a non-empty string", i)
		}
		replace, ok := obj["replace"].(string)
		if !ok {
			return nil, fmt.Errorf("edits[%d].replace must be a string", i)
		}
		count, err := tool.Int(obj, "count", 1)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("edits[%d].count must be a non-negative integer", i)
		}
		ops = append(ops, editOp{find: find, replace: replace, count: count})
	}
	return ops, nil
}
