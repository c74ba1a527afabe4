// Package anthropic implements model.Backend on the official Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/telemetry"
)

const (
	// Name is the backend identifier used in targets ("model@anthropic").
	Name             = "anthropic"
	defaultMaxTokens = 4096
)

var _ model.Backend = (*Backend)(nil)

// messagesAPI is the slice of the SDK client the backend needs.
type messagesAPI interface {
	New(ctx context.Context, body anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Config configures the backend.
type Config struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
	// MaxRetries is the SDK's own retry budget. The conversation loop
	// retries transient failures itself, so the default is 0.
	MaxRetries int
}

// Backend sends requests through the Anthropic Messages API.
type Backend struct {
	msgs      messagesAPI
	maxTokens int
}

// New builds a backend from cfg.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)
	return &Backend{msgs: &client.Messages, maxTokens: cfg.MaxTokens}, nil
}

func (b *Backend) Name() string { return Name }

// Send performs one blocking Messages call.
func (b *Backend) Send(ctx context.Context, req model.Request) (_ *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", Name),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.tools_count", len(req.Tools)),
			attribute.Int("llm.messages_count", len(req.Messages)),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	req, names := model.EncodeToolNames(req)
	params, err := b.buildParams(req)
	if err != nil {
		return nil, model.Permanent(Name, err)
	}
	msg, err := b.msgs.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	resp := convertResponse(msg)
	names.Decode(resp)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (b *Backend) buildParams(req model.Request) (anthropicsdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system, messages := convertMessages(req.Messages, req.System)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}
	return params, nil
}

func classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return model.Classify(Name, apiErr.StatusCode, err)
	}
	return model.Classify(Name, 0, err)
}
