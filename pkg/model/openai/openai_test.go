package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/model"
)

type fakeCompletions struct {
	newFn func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

func (f *fakeCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f.newFn(ctx, params)
}

func TestSendConvertsHistoryAndToolCalls(t *testing.T) {
	var seen openai.ChatCompletionNewParams
	b := &Backend{name: Name, completions: &fakeCompletions{newFn: func(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		seen = params
		return &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{
				FinishReason: "tool_calls",
				Message: openai.ChatCompletionMessage{
					Content: "",
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{ID: "t1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "Write", Arguments: `{"path":"x.txt","content":"hi"}`}},
						{ID: "t2", Function: openai.ChatCompletionMessageToolCallFunction{Name: "Bash", Arguments: `not json`}},
					},
				},
			}},
			Usage: openai.CompletionUsage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9},
		}, nil
	}}}

	resp, err := b.Send(context.Background(), model.Request{
		Model:  "gpt-4o",
		System: "sys",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "go"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "Read", Arguments: map[string]any{"path": "a"}}}},
			{Role: model.RoleTool, ToolCallID: "c1", Content: "nope", IsError: true},
		},
		Tools: []model.ToolDefinition{{Name: "Read", Description: "read", Parameters: map[string]any{"properties": map[string]any{}}}},
	})
	require.NoError(t, err)

	require.Len(t, seen.Messages, 4)
	require.NotNil(t, seen.Messages[0].OfSystem)
	require.NotNil(t, seen.Messages[1].OfUser)
	require.NotNil(t, seen.Messages[2].OfAssistant)
	require.Equal(t, `{"path":"a"}`, seen.Messages[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, seen.Messages[3].OfTool)
	require.Equal(t, "c1", seen.Messages[3].OfTool.ToolCallID)
	require.Equal(t, int64(defaultMaxTokens), seen.MaxCompletionTokens.Value)
	require.Len(t, seen.Tools, 1)
	require.Equal(t, "object", seen.Tools[0].Function.Parameters["type"])

	require.Len(t, resp.Message.ToolCalls, 2)
	require.Equal(t, map[string]any{"path": "x.txt", "content": "hi"}, resp.Message.ToolCalls[0].Arguments)
	require.Equal(t, map[string]any{"raw": "not json"}, resp.Message.ToolCalls[1].Arguments)
	require.Equal(t, 9, resp.Usage.TotalTokens)
	require.Equal(t, "tool_calls", resp.StopReason)
}

func TestSendEmptyChoices(t *testing.T) {
	b := &Backend{name: Name, completions: &fakeCompletions{newFn: func(context.Context, openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return &openai.ChatCompletion{}, nil
	}}}
	resp, err := b.Send(context.Background(), model.Request{Model: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, resp.Message.Role)
	require.Empty(t, resp.Message.ToolCalls)
}

func TestSendClassifiesErrors(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	cases := []struct {
		err       error
		transient bool
	}{
		{&openai.Error{StatusCode: http.StatusServiceUnavailable, Request: req, Response: &http.Response{StatusCode: 503}}, true},
		{&openai.Error{StatusCode: http.StatusBadRequest, Request: req, Response: &http.Response{StatusCode: 400}}, false},
		{errors.New("connection reset by peer"), true},
	}
	for _, tc := range cases {
		b := &Backend{name: OllamaName, completions: &fakeCompletions{newFn: func(context.Context, openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return nil, tc.err
		}}}
		_, err := b.Send(context.Background(), model.Request{Model: "llama3"})
		require.Equal(t, tc.transient, model.IsTransient(err))
		var be *model.BackendError
		require.ErrorAs(t, err, &be)
		require.Equal(t, OllamaName, be.Backend)
	}
}

func TestNewConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	b, err := NewOllama("")
	require.NoError(t, err)
	require.Equal(t, OllamaName, b.Name())

	b, err = New(Config{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, Name, b.Name())
}
