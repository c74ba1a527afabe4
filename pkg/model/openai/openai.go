// Package openai implements model.Backend on the OpenAI chat completions
// API. Any OpenAI-compatible server (Ollama, vLLM, proxies) works through
// Config.BaseURL.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/telemetry"
)

const (
	// Name is the default backend identifier.
	Name = "openai"
	// OllamaName and OllamaBaseURL describe a local Ollama server.
	OllamaName       = "ollama"
	OllamaBaseURL    = "http://localhost:11434/v1"
	defaultMaxTokens = 4096
)

var _ model.Backend = (*Backend)(nil)

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Config configures the backend.
type Config struct {
	// Name overrides the backend identifier, e.g. "ollama".
	Name       string
	APIKey     string
	BaseURL    string
	MaxTokens  int
	MaxRetries int
}

// Backend sends requests through chat completions.
type Backend struct {
	name        string
	completions chatCompletions
	maxTokens   int
}

// New builds a backend from cfg. An API key is required unless BaseURL
// points at a self-hosted server.
func New(cfg Config) (*Backend, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = Name
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, errors.New("openai: api key is required")
		}
		apiKey = name
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Backend{name: name, completions: &client.Chat.Completions, maxTokens: cfg.MaxTokens}, nil
}

// NewOllama builds a backend for a local Ollama server.
func NewOllama(baseURL string) (*Backend, error) {
	if baseURL == "" {
		baseURL = OllamaBaseURL
	}
	return New(Config{Name: OllamaName, BaseURL: baseURL})
}

func (b *Backend) Name() string { return b.name }

// Send performs one blocking chat completion.
func (b *Backend) Send(ctx context.Context, req model.Request) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", b.name),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.tools_count", len(req.Tools)),
			attribute.Int("llm.messages_count", len(req.Messages)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	req, names := model.EncodeToolNames(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(req.Model),
		Messages:            convertMessages(req.Messages, req.System),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	completion, err := b.completions.New(ctx, params)
	if err != nil {
		return nil, b.classify(err)
	}
	resp := convertResponse(completion)
	names.Decode(resp)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (b *Backend) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.Classify(b.name, apiErr.StatusCode, err)
	}
	return model.Classify(b.name, 0, err)
}
