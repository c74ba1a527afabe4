package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/cexll/agentcore/pkg/model"
)

// convertMessages maps history onto Anthropic turns. System messages are
// hoisted into the system blocks and consecutive tool results are merged
// into one user turn, which the API requires after a multi-call assistant
// turn.
func convertMessages(history []model.Message, system string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var systemBlocks []anthropicsdk.TextBlockParam
	if strings.TrimSpace(system) != "" {
		systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: system})
	}

	params := make([]anthropicsdk.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case model.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: msg.Content})
			}
		case model.RoleAssistant:
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: assistantBlocks(msg),
			})
		case model.RoleTool:
			block := toolResultBlock(msg)
			if n := len(params); n > 0 && params[n-1].Role == anthropicsdk.MessageParamRoleUser && isToolResultTurn(params[n-1]) {
				params[n-1].Content = append(params[n-1].Content, block)
				continue
			}
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{block},
			})
		default:
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(nonEmpty(msg.Content))},
			})
		}
	}
	if len(params) == 0 {
		params = append(params, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(".")))
	}
	return systemBlocks, params
}

func isToolResultTurn(p anthropicsdk.MessageParam) bool {
	for _, block := range p.Content {
		if block.OfToolResult == nil {
			return false
		}
	}
	return len(p.Content) > 0
}

func assistantBlocks(msg model.Message) []anthropicsdk.ContentBlockParamUnion {
	var blocks []anthropicsdk.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		if call.ID == "" || call.Name == "" {
			continue
		}
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, args, call.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func toolResultBlock(msg model.Message) anthropicsdk.ContentBlockParamUnion {
	result := anthropicsdk.ToolResultBlockParam{
		ToolUseID: msg.ToolCallID,
		Content: []anthropicsdk.ToolResultBlockParamContentUnion{
			{OfText: &anthropicsdk.TextBlockParam{Text: nonEmpty(msg.Content)}},
		},
	}
	if msg.IsError {
		result.IsError = anthropicsdk.Bool(true)
	}
	return anthropicsdk.ContentBlockParamUnion{OfToolResult: &result}
}

// The API rejects empty text blocks.
func nonEmpty(s string) string {
	if s == "" {
		return "."
	}
	return s
}

func convertTools(defs []model.ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema, err := inputSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: schema for %s: %w", name, err)
		}
		tool := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if strings.TrimSpace(def.Description) != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func inputSchema(params map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(params) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertResponse(msg *anthropicsdk.Message) *model.Response {
	out := model.Message{Role: model.RoleAssistant}
	var text []string
	for _, block := range msg.Content {
		switch content := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			text = append(text, content.Text)
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: decodeInput(content.Input),
			})
		}
	}
	out.Content = strings.Join(text, "\n")
	usage := model.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		CacheTokens:  int(msg.Usage.CacheReadInputTokens),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &model.Response{Message: out, Usage: usage, StopReason: string(msg.StopReason)}
}

func decodeInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return map[string]any{}
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": value}
}
