package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider wraps the OpenTelemetry SDK tracing components
type TracerProvider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	enabled        bool
}

// NewTracerProvider creates a new TracerProvider from config and registers it
// as the global provider.
func NewTracerProvider(ctx context.Context, config *Config) (*TracerProvider, error) {
	if !config.IsTracesEnabled() {
		return &TracerProvider{config: config, enabled: false}, nil
	}

	exporter, err := otlptracehttp.New(ctx, buildTracerExporterOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP traces exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(buildResource(config)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(buildSampler(config.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer(TracerName, trace.WithInstrumentationVersion(config.ServiceVersion)),
		enabled:        true,
	}, nil
}

func buildTracerExporterOptions(cfg *Config) []otlptracehttp.Option {
	var opts []otlptracehttp.Option

	if cfg.TracesEndpoint != "" {
		endpoint, urlPath, useInsecure := parseEndpointURL(cfg.TracesEndpoint)
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))

		if urlPath != "" && urlPath != "/v1/traces" {
			opts = append(opts, otlptracehttp.WithURLPath(urlPath))
		}

		if useInsecure || cfg.TracesInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	}

	if len(cfg.TracesHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.TracesHeaders))
	}

	if cfg.TracesTimeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.TracesTimeout))
	}

	return opts
}

// GetTracer returns the OTEL tracer for creating spans
func (p *TracerProvider) GetTracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(TracerName)
	}
	return p.tracer
}

// IsEnabled returns whether tracing is active
func (p *TracerProvider) IsEnabled() bool {
	return p != nil && p.enabled && p.tracerProvider != nil
}

// Shutdown gracefully shuts down the provider
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Shutdown(ctx)
}

// ForceFlush forces an immediate export of all pending spans
func (p *TracerProvider) ForceFlush(ctx context.Context) error {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.ForceFlush(ctx)
}

// StartSpan starts a new span with the given name and attributes
func (p *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !p.IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartClientSpan starts a span for an outbound call
func (p *TracerProvider) StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !p.IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}
