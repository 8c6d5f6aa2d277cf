package telemetry

import (
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ============================================================================
// Shared provider setup
// ============================================================================

func buildResource(cfg *Config) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	}

	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespace(cfg.ServiceNamespace))
	}

	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func buildSampler(sampleRate float64) sdktrace.Sampler {
	if sampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	if sampleRate <= 0.0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))
}

// parseEndpointURL splits a full collector URL into the host, path and scheme
// pieces the OTLP HTTP exporters take separately.
func parseEndpointURL(rawURL string) (endpoint string, urlPath string, useInsecure bool) {
	if !strings.Contains(rawURL, "://") {
		return rawURL, "", false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, "", false
	}

	endpoint = parsed.Host
	urlPath = parsed.Path
	if urlPath == "/" {
		urlPath = ""
	}
	useInsecure = parsed.Scheme == "http"

	return endpoint, urlPath, useInsecure
}

// logTelemetryStatus logs the resolved telemetry configuration on startup
func logTelemetryStatus(cfg *Config) {
	if cfg.UseNoOp {
		logger().Info("disabled", "reason", "RUNTIME_LOCAL=true", "env", cfg.Environment)
		return
	}

	if !cfg.Enabled {
		logger().Info("disabled", "reason", "TELEMETRY_ENABLED=false")
		return
	}

	tracesStatus := "off"
	if cfg.IsTracesEnabled() {
		tracesStatus = cfg.TracesEndpoint
	}

	metricsStatus := "off"
	if cfg.IsMetricsEnabled() {
		metricsStatus = cfg.MetricsEndpoint
	}

	logger().Info("enabled",
		"env", cfg.Environment,
		"traces", tracesStatus,
		"metrics", metricsStatus,
		"sample_rate", cfg.SampleRate,
	)
}
