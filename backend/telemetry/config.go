package telemetry

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ============================================================================
// Environment-specific OTEL Endpoints
// ============================================================================

// otelEndpoints maps environment to OTEL collector endpoints.
// Environments not listed here export nothing unless OTEL_* vars are set.
var otelEndpoints = map[string]struct {
	Traces  string
	Metrics string
}{
	"local": {
		Traces:  "http://localhost:4318/v1/traces",
		Metrics: "http://localhost:4318/v1/metrics",
	},
}

// protectedEnvironments never honor RUNTIME_LOCAL.
var protectedEnvironments = map[string]bool{
	"staging": true,
	"prod":    true,
}

// BuildConfigInput contains the caller-supplied telemetry inputs
type BuildConfigInput struct {
	ServiceName    string // default: "gettoken-demo"
	ServiceVersion string
	Environment    string // local, dev, staging, prod

	ServiceNamespace string  // default: "sitewise-gettoken-demo"
	SampleRate       float64 // 0.0-1.0, zero means "not set"
}

// Config is the resolved telemetry configuration used by the providers
type Config struct {
	// Master switch (if false, all telemetry off)
	Enabled bool

	// UseNoOp selects the NoOp emitter (RUNTIME_LOCAL=true outside protected envs)
	UseNoOp bool

	ServiceName      string
	ServiceNamespace string
	ServiceVersion   string
	Environment      string

	TracesEndpoint string
	TracesHeaders  map[string]string
	TracesInsecure bool
	TracesTimeout  time.Duration

	MetricsEndpoint       string
	MetricsHeaders        map[string]string
	MetricsInsecure       bool
	MetricsExportInterval time.Duration

	SampleRate float64
}

// IsTracesEnabled returns true if tracing should be active
func (c *Config) IsTracesEnabled() bool {
	return c.Enabled && !c.UseNoOp && c.TracesEndpoint != ""
}

// IsMetricsEnabled returns true if metrics should be active
func (c *Config) IsMetricsEnabled() bool {
	return c.Enabled && !c.UseNoOp && c.MetricsEndpoint != ""
}

// BuildConfig builds Config with the following priority (highest to lowest):
//  1. Explicit input values
//  2. Environment variables (OTEL_*, TELEMETRY_*)
//  3. Code-based defaults (otelEndpoints map)
func BuildConfig(input BuildConfigInput) *Config {
	config := &Config{
		Enabled:    true,
		SampleRate: 1.0,
	}

	config.Environment = input.Environment
	if config.Environment == "" {
		config.Environment = os.Getenv("ENV")
	}
	if config.Environment == "" {
		config.Environment = "unknown"
	}

	runtimeLocal := strings.ToLower(os.Getenv("RUNTIME_LOCAL")) == "true"
	if protectedEnvironments[config.Environment] {
		if runtimeLocal {
			logger().Warn("RUNTIME_LOCAL=true ignored, telemetry stays enabled", "env", config.Environment)
		}
	} else if runtimeLocal {
		logger().Warn("telemetry disabled via RUNTIME_LOCAL=true, using NoOp emitter", "env", config.Environment)
		config.UseNoOp = true
	}

	if val := os.Getenv("TELEMETRY_ENABLED"); val != "" {
		config.Enabled = strings.ToLower(val) == "true" || val == "1"
	}

	config.ServiceName = resolveStringValue(input.ServiceName, "OTEL_SERVICE_NAME", "gettoken-demo")
	config.ServiceNamespace = resolveStringValue(input.ServiceNamespace, "SERVICE_NAMESPACE", "sitewise-gettoken-demo")

	config.ServiceVersion = input.ServiceVersion
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	// === TRACES ===
	config.TracesEndpoint = resolveStringValue(
		"",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		otelEndpoints[config.Environment].Traces,
	)
	if disabledByEnv("TELEMETRY_TRACES_ENABLED") {
		config.TracesEndpoint = ""
	}
	config.TracesInsecure = resolveBoolFlag(
		nil,
		"OTEL_EXPORTER_OTLP_INSECURE",
		strings.HasPrefix(config.TracesEndpoint, "http://"),
	)
	config.TracesHeaders = resolveHeaders("OTEL_EXPORTER_OTLP_HEADERS")
	config.TracesTimeout = resolveDuration(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"), 30*time.Second)

	// === METRICS ===
	config.MetricsEndpoint = resolveStringValue(
		"",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
		otelEndpoints[config.Environment].Metrics,
	)
	if disabledByEnv("TELEMETRY_METRICS_ENABLED") {
		config.MetricsEndpoint = ""
	}
	config.MetricsInsecure = resolveBoolFlag(
		nil,
		"OTEL_EXPORTER_OTLP_METRICS_INSECURE",
		strings.HasPrefix(config.MetricsEndpoint, "http://"),
	)
	config.MetricsHeaders = resolveHeaders("OTEL_EXPORTER_OTLP_METRICS_HEADERS")
	config.MetricsExportInterval = resolveDuration(os.Getenv("TELEMETRY_METRICS_EXPORT_INTERVAL"), 60*time.Second)

	config.SampleRate = resolveSampleRate(input.SampleRate, "TELEMETRY_SAMPLE_RATE", 1.0)

	return config
}

// ============================================================================
// Helper Functions - Priority Resolution
// ============================================================================

func disabledByEnv(envVar string) bool {
	val := os.Getenv(envVar)
	return strings.ToLower(val) == "false" || val == "0"
}

// resolveBoolFlag resolves a boolean with priority: clientValue > ENV > default
func resolveBoolFlag(clientValue *bool, envVar string, defaultValue bool) bool {
	if clientValue != nil {
		return *clientValue
	}
	if envVar != "" {
		if envVal := os.Getenv(envVar); envVal != "" {
			return strings.ToLower(envVal) == "true" || envVal == "1"
		}
	}
	return defaultValue
}

// resolveStringValue resolves a string with priority: clientValue > ENV > default
func resolveStringValue(clientValue, envVar, defaultValue string) string {
	if clientValue != "" {
		return clientValue
	}
	if envVar != "" {
		if envVal := os.Getenv(envVar); envVal != "" {
			return envVal
		}
	}
	return defaultValue
}

// resolveHeaders parses "k1=v1,k2=v2" from an environment variable
func resolveHeaders(envVar string) map[string]string {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}

// resolveDuration parses a duration string with fallback
func resolveDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// resolveSampleRate resolves sample rate with priority: clientValue > ENV > default.
// Values outside 0.0-1.0 are clamped.
func resolveSampleRate(clientValue float64, envVar string, defaultValue float64) float64 {
	if clientValue > 0 {
		return clampSampleRate(clientValue)
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if f, err := strconv.ParseFloat(envVal, 64); err == nil {
			return clampSampleRate(f)
		}
	}
	return defaultValue
}

func clampSampleRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}

func logger() hclog.Logger {
	return hclog.Default().Named("telemetry")
}
