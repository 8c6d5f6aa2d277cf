package telemetry

import (
	"context"
	"time"
)

// Emitter wraps telemetry providers and provides simplified emit methods.
type Emitter struct {
	t           Telemetry
	tracer      *TracerProvider
	metrics     *MetricsProvider
	config      *Config
	startTime   time.Time
	serviceName string
	environment string
}

// EmitterConfig configures the Emitter
type EmitterConfig struct {
	Config         *Config
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// NewEmitter creates a new Emitter. Exporter setup failures are logged and
// leave the affected signal off; the emitter itself is always usable.
func NewEmitter(ctx context.Context, config EmitterConfig) (*Emitter, error) {
	cfg := config.Config
	if cfg == nil {
		cfg = BuildConfig(BuildConfigInput{
			ServiceName:    config.ServiceName,
			ServiceVersion: config.ServiceVersion,
			Environment:    config.Environment,
		})
	}

	e := &Emitter{
		config:      cfg,
		startTime:   time.Now(),
		serviceName: cfg.ServiceName,
		environment: cfg.Environment,
	}

	logTelemetryStatus(cfg)

	if cfg.IsTracesEnabled() {
		tracerProvider, err := NewTracerProvider(ctx, cfg)
		if err != nil {
			logger().Warn("traces unavailable", "error", err)
		} else {
			e.tracer = tracerProvider
		}
	}

	if cfg.IsMetricsEnabled() {
		metricsProvider, err := NewMetricsProvider(ctx, cfg)
		if err != nil {
			logger().Warn("metrics unavailable", "error", err)
		} else {
			e.metrics = metricsProvider
		}
	}

	if e.tracer != nil && e.tracer.IsEnabled() {
		e.t = NewSpanTelemetry(SpanConfig{Provider: e.tracer})
	} else {
		e.t = NewNoOp()
	}

	return e, nil
}

// Close gracefully shuts down the emitter
func (e *Emitter) Close(ctx context.Context) error {
	var err error
	if e.tracer != nil {
		if terr := e.tracer.Shutdown(ctx); terr != nil {
			err = terr
		}
	}
	if e.metrics != nil {
		if merr := e.metrics.Shutdown(ctx); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

// Flush forces an immediate flush of pending spans and metrics
func (e *Emitter) Flush(ctx context.Context) {
	if e.tracer != nil {
		_ = e.tracer.ForceFlush(ctx)
	}
	if e.metrics != nil {
		_ = e.metrics.ForceFlush(ctx)
	}
}

// IsTracesEnabled returns whether trace export is active
func (e *Emitter) IsTracesEnabled() bool {
	return e.tracer != nil && e.tracer.IsEnabled()
}

// IsMetricsEnabled returns whether metrics export is active
func (e *Emitter) IsMetricsEnabled() bool {
	return e.metrics != nil && e.metrics.IsEnabled()
}

// IsEnabled returns whether any telemetry export is active
func (e *Emitter) IsEnabled() bool {
	return e.IsTracesEnabled() || e.IsMetricsEnabled()
}

// ============================================================================
// Token Operations
// ============================================================================

// EmitTokenRequest starts a token request span
func (e *Emitter) EmitTokenRequest(ctx context.Context, scope, portalID, projectID string) context.Context {
	return e.t.OnTokenRequest(ctx, TokenRequestEvent{
		Scope:     scope,
		PortalID:  portalID,
		ProjectID: projectID,
		Timestamp: time.Now(),
	})
}

// EmitTokenSuccess records a token request that returned 2xx
func (e *Emitter) EmitTokenSuccess(ctx context.Context, scope string, duration time.Duration) {
	if e.IsMetricsEnabled() {
		e.metrics.RecordTokenRequest(ctx, scope, float64(duration.Milliseconds()), true)
	}

	e.t.OnTokenResult(ctx, TokenResultEvent{
		Scope:     scope,
		Success:   true,
		Duration:  duration,
		Timestamp: time.Now(),
	})
}

// EmitTokenFailure records a token request that failed
func (e *Emitter) EmitTokenFailure(ctx context.Context, scope string, err error, duration time.Duration) {
	if e.IsMetricsEnabled() {
		e.metrics.RecordTokenRequest(ctx, scope, float64(duration.Milliseconds()), false)
		e.metrics.RecordRequestError(ctx, "token", scope)
	}

	e.t.OnTokenResult(ctx, TokenResultEvent{
		Scope:     scope,
		Success:   false,
		Duration:  duration,
		Error:     err,
		Timestamp: time.Now(),
	})
}

// ============================================================================
// Describe Operations
// ============================================================================

// EmitDescribeRequest starts a describe span
func (e *Emitter) EmitDescribeRequest(ctx context.Context, resource, resourceID string) context.Context {
	return e.t.OnDescribeRequest(ctx, DescribeRequestEvent{
		Resource:   resource,
		ResourceID: resourceID,
		Timestamp:  time.Now(),
	})
}

// EmitDescribeResult records the outcome of a describe call
func (e *Emitter) EmitDescribeResult(ctx context.Context, resource, resourceID string, err error, duration time.Duration) {
	success := err == nil
	if e.IsMetricsEnabled() {
		e.metrics.RecordDescribeRequest(ctx, resource, float64(duration.Milliseconds()), success)
		if !success {
			e.metrics.RecordRequestError(ctx, "describe", resource)
		}
	}

	e.t.OnDescribeResult(ctx, DescribeResultEvent{
		Resource:   resource,
		ResourceID: resourceID,
		Success:    success,
		Duration:   duration,
		Error:      err,
		Timestamp:  time.Now(),
	})
}

// ============================================================================
// Session Operations
// ============================================================================

// EmitSignIn records a user signing in
func (e *Emitter) EmitSignIn(ctx context.Context, user string) {
	e.emitSession(ctx, user, true)
}

// EmitSignOut records a user signing out
func (e *Emitter) EmitSignOut(ctx context.Context, user string) {
	e.emitSession(ctx, user, false)
}

func (e *Emitter) emitSession(ctx context.Context, user string, signIn bool) {
	if e.IsMetricsEnabled() {
		event := "sign_out"
		if signIn {
			event = "sign_in"
		}
		e.metrics.RecordSession(ctx, event)
	}

	e.t.OnSession(ctx, SessionEvent{
		User:      user,
		SignIn:    signIn,
		Timestamp: time.Now(),
	})
}

// ============================================================================
// Error Operations
// ============================================================================

// EmitError records an error
func (e *Emitter) EmitError(ctx context.Context, operation string, err error, severity string) {
	e.t.OnError(ctx, ErrorEvent{
		Operation: operation,
		Error:     err,
		Severity:  severity,
		Timestamp: time.Now(),
	})
}

// EndSpan ends the span carried by ctx
func (e *Emitter) EndSpan(ctx context.Context) {
	e.t.EndSpan(ctx)
}

// GetStartTime returns the emitter's start time
func (e *Emitter) GetStartTime() time.Time {
	return e.startTime
}

// ServiceName returns the resolved service name
func (e *Emitter) ServiceName() string {
	return e.serviceName
}

// Environment returns the resolved deployment environment
func (e *Emitter) Environment() string {
	return e.environment
}
