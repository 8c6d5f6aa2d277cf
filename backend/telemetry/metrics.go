package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsProvider wraps the OpenTelemetry SDK metrics components
type MetricsProvider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	enabled       bool

	// Counters
	tokenRequestsTotal    metric.Int64Counter
	describeRequestsTotal metric.Int64Counter
	requestErrorsTotal    metric.Int64Counter
	sessionsTotal         metric.Int64Counter

	// Histograms
	tokenRequestDuration    metric.Float64Histogram
	describeRequestDuration metric.Float64Histogram
}

// NewMetricsProvider creates a new MetricsProvider from config and registers
// it as the global meter provider.
func NewMetricsProvider(ctx context.Context, config *Config) (*MetricsProvider, error) {
	if !config.IsMetricsEnabled() {
		return &MetricsProvider{config: config, enabled: false}, nil
	}

	exporter, err := otlpmetrichttp.New(ctx, buildMetricsExporterOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	exportInterval := config.MetricsExportInterval
	if exportInterval == 0 {
		exportInterval = 60 * time.Second
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(buildResource(config)),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)

	otel.SetMeterProvider(mp)

	p := &MetricsProvider{
		config:        config,
		meterProvider: mp,
		meter:         mp.Meter(TracerName, metric.WithInstrumentationVersion(config.ServiceVersion)),
		enabled:       true,
	}

	if err := p.initMetrics(); err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics instruments: %w", err)
	}

	return p, nil
}

func buildMetricsExporterOptions(cfg *Config) []otlpmetrichttp.Option {
	var opts []otlpmetrichttp.Option

	if cfg.MetricsEndpoint != "" {
		endpoint, urlPath, useInsecure := parseEndpointURL(cfg.MetricsEndpoint)
		opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))

		if urlPath != "" && urlPath != "/v1/metrics" {
			opts = append(opts, otlpmetrichttp.WithURLPath(urlPath))
		}

		if useInsecure || cfg.MetricsInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
	}

	if len(cfg.MetricsHeaders) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.MetricsHeaders))
	}

	return opts
}

// initMetrics initializes all metric instruments
func (p *MetricsProvider) initMetrics() error {
	var err error

	p.tokenRequestsTotal, err = p.meter.Int64Counter(
		"gettoken_token_requests_total",
		metric.WithDescription("Total number of GetToken requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	p.describeRequestsTotal, err = p.meter.Int64Counter(
		"gettoken_describe_requests_total",
		metric.WithDescription("Total number of SiteWise describe requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	p.requestErrorsTotal, err = p.meter.Int64Counter(
		"gettoken_request_errors_total",
		metric.WithDescription("Total number of failed requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.sessionsTotal, err = p.meter.Int64Counter(
		"gettoken_sessions_total",
		metric.WithDescription("Total number of sign-in and sign-out events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	buckets := metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000)

	p.tokenRequestDuration, err = p.meter.Float64Histogram(
		"gettoken_token_request_duration_ms",
		metric.WithDescription("GetToken request latency in milliseconds"),
		metric.WithUnit("ms"),
		buckets,
	)
	if err != nil {
		return err
	}

	p.describeRequestDuration, err = p.meter.Float64Histogram(
		"gettoken_describe_request_duration_ms",
		metric.WithDescription("SiteWise describe latency in milliseconds"),
		metric.WithUnit("ms"),
		buckets,
	)
	return err
}

// IsEnabled returns whether metrics are active
func (p *MetricsProvider) IsEnabled() bool {
	return p != nil && p.enabled && p.meterProvider != nil
}

// Shutdown gracefully shuts down the provider
func (p *MetricsProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// ForceFlush forces an immediate export of all pending metrics
func (p *MetricsProvider) ForceFlush(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.ForceFlush(ctx)
}

// ============================================================================
// Metric Recording Methods
// ============================================================================

// RecordTokenRequest records a settled token request
func (p *MetricsProvider) RecordTokenRequest(ctx context.Context, scope string, durationMs float64, success bool) {
	if !p.IsEnabled() {
		return
	}

	attrs := metric.WithAttributes(
		AttrScope.String(scope),
		AttrSuccess.Bool(success),
	)

	p.tokenRequestsTotal.Add(ctx, 1, attrs)
	p.tokenRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordDescribeRequest records a settled describe request
func (p *MetricsProvider) RecordDescribeRequest(ctx context.Context, resource string, durationMs float64, success bool) {
	if !p.IsEnabled() {
		return
	}

	attrs := metric.WithAttributes(
		AttrResource.String(resource),
		AttrSuccess.Bool(success),
	)

	p.describeRequestsTotal.Add(ctx, 1, attrs)
	p.describeRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordRequestError records a failed request of the given kind
func (p *MetricsProvider) RecordRequestError(ctx context.Context, kind, errorType string) {
	if !p.IsEnabled() {
		return
	}

	p.requestErrorsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("error_type", errorType),
		),
	)
}

// RecordSession records a sign-in or sign-out
func (p *MetricsProvider) RecordSession(ctx context.Context, event string) {
	if !p.IsEnabled() {
		return
	}

	p.sessionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
