package openai

import (
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/cexll/agentcore/pkg/model"
)

func convertMessages(history []model.Message, system string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range history {
		switch msg.Role {
		case model.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				out = append(out, openai.SystemMessage(msg.Content))
			}
		case model.RoleAssistant:
			out = append(out, assistantMessage(msg))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(toolContent(msg), msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	if len(out) == 0 {
		out = append(out, openai.UserMessage("."))
	}
	return out
}

// toolContent marks failed results in-band; chat completions has no
// is_error flag on tool messages.
func toolContent(msg model.Message) string {
	if msg.IsError {
		return "error: " + msg.Content
	}
	return msg.Content
}

func assistantMessage(msg model.Message) openai.ChatCompletionMessageParamUnion {
	param := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		content := msg.Content
		if content == "" {
			content = "."
		}
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(content)}
	}
	for _, call := range msg.ToolCalls {
		if call.ID == "" || call.Name == "" {
			continue
		}
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		data, err := json.Marshal(args)
		if err != nil {
			data = []byte("{}")
		}
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(data),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func convertTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       name,
				Parameters: functionParameters(def.Parameters),
			},
		}
		if desc := strings.TrimSpace(def.Description); desc != "" {
			tool.Function.Description = openai.Opt(desc)
		}
		out = append(out, tool)
	}
	return out
}

func functionParameters(params map[string]any) shared.FunctionParameters {
	out := make(shared.FunctionParameters, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func convertResponse(completion *openai.ChatCompletion) *model.Response {
	if completion == nil || len(completion.Choices) == 0 {
		return &model.Response{Message: model.Message{Role: model.RoleAssistant}}
	}
	choice := completion.Choices[0]
	msg := model.Message{Role: model.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArgs(tc.Function.Arguments),
		})
	}
	return &model.Response{
		Message: msg,
		Usage: model.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
			CacheTokens:  int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
		StopReason: choice.FinishReason,
	}
}

// parseArgs never fails: malformed JSON arrives as {"raw": "..."} so the
// executor can report an invalid-argument result to the model.
func parseArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return map[string]any{"raw": raw}
	}
	if value == nil {
		return map[string]any{}
	}
	return value
}
