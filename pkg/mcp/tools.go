package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/agentcore/pkg/tool"
)

// RemoteTool exposes one server tool through the tool.Tool interface.
type RemoteTool struct {
	manager *Manager
	handle  *Handle
	info    ToolInfo
	schema  *tool.JSONSchema
}

// NewRemoteTool wraps info served by h.
func NewRemoteTool(m *Manager, h *Handle, info ToolInfo) *RemoteTool {
	return &RemoteTool{manager: m, handle: h, info: info, schema: tool.ParseSchema(info.InputSchema)}
}

func (r *RemoteTool) Name() string { return r.info.FullName }

func (r *RemoteTool) Description() string {
	if strings.TrimSpace(r.info.Description) == "" {
		return fmt.Sprintf("Tool %s provided by MCP server %s.", r.info.Name, r.info.Server)
	}
	return r.info.Description
}

func (r *RemoteTool) Schema() *tool.JSONSchema { return r.schema }

func (r *RemoteTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	res, err := r.manager.CallTool(ctx, r.handle, r.info.Name, params)
	if err != nil {
		return nil, err
	}
	out, truncated := tool.Truncate(res.Text, tool.DefaultOutputLimit)
	return &tool.ToolResult{
		Success:   !res.IsError,
		Output:    out,
		Truncated: truncated,
		Data:      map[string]any{"server": r.info.Server, "tool": r.info.Name},
	}, nil
}

// RegisterTools lists h's tools and registers each one, returning the
// namespaced names.
func (m *Manager) RegisterTools(ctx context.Context, reg *tool.Registry, h *Handle) ([]string, error) {
	infos, err := m.ListTools(ctx, h)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if err := reg.Register(NewRemoteTool(m, h, info)); err != nil {
			return names, fmt.Errorf("mcp: register %s: %w", info.FullName, err)
		}
		names = append(names, info.FullName)
	}
	return names, nil
}

// UnregisterTools drops every tool of server from reg.
func UnregisterTools(reg *tool.Registry, server string) {
	prefix := ToolName(server, "")
	for _, name := range reg.Names() {
		if strings.HasPrefix(name, prefix) {
			reg.Unregister(name)
		}
	}
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// renderContent flattens a call result into text: text blocks verbatim,
// other blocks as their JSON form, structured output as JSON when no
// content was sent.
func renderContent(res *mcpsdk.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, string(data))
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}
