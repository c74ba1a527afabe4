// Package telemetry wraps OpenTelemetry tracing for backend calls, tool
// dispatch and subagent runs. Tracing is off unless Config.Enabled is set;
// the helpers are always safe to call.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/cexll/agentcore"

// Config controls exporter setup.
type Config struct {
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	ServiceName    string            `json:"service_name" yaml:"service_name"`
	ServiceVersion string            `json:"service_version" yaml:"service_version"`
	Environment    string            `json:"environment" yaml:"environment"`
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	Insecure       bool              `json:"insecure" yaml:"insecure"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	SampleRate     float64           `json:"sample_rate" yaml:"sample_rate"`
	Filter         FilterConfig      `json:"-" yaml:"-"`
}

// Manager owns the tracer provider and the masking filter.
type Manager struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	filter   *Filter
}

// NewManager builds a manager exporting over OTLP/HTTP. A disabled config
// yields a manager with a no-op tracer.
func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return newNoopManager(cfg.Filter)
	}
	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}
	return newManager(cfg, sdktrace.WithBatcher(exporter))
}

// NewManagerWithExporter builds an enabled manager that exports spans
// synchronously to exp.
func NewManagerWithExporter(cfg Config, exp sdktrace.SpanExporter) (*Manager, error) {
	if exp == nil {
		return nil, errors.New("telemetry: exporter is nil")
	}
	return newManager(cfg, sdktrace.WithSyncer(exp))
}

func newManager(cfg Config, export sdktrace.TracerProviderOption) (*Manager, error) {
	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate <= 0 || cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res), sdktrace.WithSampler(sampler))
	return &Manager{provider: provider, tracer: provider.Tracer(instrumentationName), filter: filter}, nil
}

func newNoopManager(fc FilterConfig) (*Manager, error) {
	filter, err := NewFilter(fc)
	if err != nil {
		return nil, err
	}
	return &Manager{tracer: noop.NewTracerProvider().Tracer(instrumentationName), filter: filter}, nil
}

// StartSpan starts a span on the manager's tracer.
func (m *Manager) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil || m.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName).Start(ctx, name, opts...)
	}
	return m.tracer.Start(ctx, name, opts...)
}

// MaskText masks secrets in text.
func (m *Manager) MaskText(text string) string {
	if m == nil {
		return text
	}
	return m.filter.MaskText(text)
}

// SanitizeAttributes masks secrets in attribute values.
func (m *Manager) SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	if m == nil || m.filter == nil {
		return attrs
	}
	return m.filter.SanitizeAttributes(attrs...)
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

var defaultManager atomic.Pointer[Manager]

// SetDefault installs mgr for the package-level helpers. nil resets to no-op.
func SetDefault(mgr *Manager) {
	defaultManager.Store(mgr)
}

// Default returns the installed manager, possibly nil.
func Default() *Manager {
	return defaultManager.Load()
}

// StartSpan starts a span on the default manager.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Default().StartSpan(ctx, name, opts...)
}

// SanitizeAttributes masks attributes with the default manager's filter.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	return Default().SanitizeAttributes(attrs...)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if !span.IsRecording() {
		span.End()
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
