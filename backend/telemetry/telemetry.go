package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry defines the interface for instrumentation using OpenTelemetry Tracing.
type Telemetry interface {
	// Token operations
	OnTokenRequest(ctx context.Context, event TokenRequestEvent) context.Context
	OnTokenResult(ctx context.Context, event TokenResultEvent)

	// Describe operations
	OnDescribeRequest(ctx context.Context, event DescribeRequestEvent) context.Context
	OnDescribeResult(ctx context.Context, event DescribeResultEvent)

	// Session operations
	OnSession(ctx context.Context, event SessionEvent)

	// Error events
	OnError(ctx context.Context, event ErrorEvent)

	// Span management
	EndSpan(ctx context.Context)
}

// ============================================================================
// Event Types
// ============================================================================

// TokenRequestEvent is emitted when a GetToken call starts
type TokenRequestEvent struct {
	Scope     string // "portal" or "project"
	PortalID  string
	ProjectID string // empty for portal scope
	Timestamp time.Time
}

// TokenResultEvent is emitted when a GetToken call settles
type TokenResultEvent struct {
	Scope     string
	Success   bool
	Duration  time.Duration
	Error     error
	Timestamp time.Time
}

// DescribeRequestEvent is emitted when a describe call starts
type DescribeRequestEvent struct {
	Resource   string // "portal" or "project"
	ResourceID string
	Timestamp  time.Time
}

// DescribeResultEvent is emitted when a describe call settles
type DescribeResultEvent struct {
	Resource   string
	ResourceID string
	Success    bool
	Duration   time.Duration
	Error      error
	Timestamp  time.Time
}

// SessionEvent is emitted on sign-in and sign-out
type SessionEvent struct {
	User      string
	SignIn    bool
	Timestamp time.Time
}

// ErrorEvent is emitted on any error
type ErrorEvent struct {
	Operation string
	Error     error
	Severity  string // "warning", "error", "critical"
	Timestamp time.Time
}

// ============================================================================
// SpanTelemetry Implementation
// ============================================================================

// SpanTelemetry implements the Telemetry interface using OTEL Tracing.
type SpanTelemetry struct {
	provider *TracerProvider
}

// SpanConfig configures the SpanTelemetry
type SpanConfig struct {
	Provider *TracerProvider
}

// NewSpanTelemetry creates a new SpanTelemetry implementation
func NewSpanTelemetry(config SpanConfig) *SpanTelemetry {
	return &SpanTelemetry{
		provider: config.Provider,
	}
}

// OnTokenRequest starts the token request span
func (s *SpanTelemetry) OnTokenRequest(ctx context.Context, event TokenRequestEvent) context.Context {
	if !s.provider.IsEnabled() {
		return ctx
	}

	attrs := []attribute.KeyValue{
		AttrScope.String(event.Scope),
		AttrPortal.String(event.PortalID),
	}
	if event.ProjectID != "" {
		attrs = append(attrs, AttrProject.String(event.ProjectID))
	}

	ctx, _ = s.provider.StartClientSpan(ctx, SpanTokenRequest, attrs...)
	return ctx
}

// OnTokenResult adds the token request outcome to the current span
func (s *SpanTelemetry) OnTokenResult(ctx context.Context, event TokenResultEvent) {
	recordOutcome(ctx, event.Success, event.Duration, event.Error, EventTokenIssued, EventTokenFailed)
}

// OnDescribeRequest starts a describe span
func (s *SpanTelemetry) OnDescribeRequest(ctx context.Context, event DescribeRequestEvent) context.Context {
	if !s.provider.IsEnabled() {
		return ctx
	}

	name := SpanDescribePortal
	if event.Resource == "project" {
		name = SpanDescribeProject
	}

	ctx, _ = s.provider.StartClientSpan(ctx, name,
		AttrResource.String(event.Resource),
		AttrResourceID.String(event.ResourceID),
	)
	return ctx
}

// OnDescribeResult adds the describe outcome to the current span
func (s *SpanTelemetry) OnDescribeResult(ctx context.Context, event DescribeResultEvent) {
	recordOutcome(ctx, event.Success, event.Duration, event.Error, EventDescribeOK, EventDescribeFailed)
}

// OnSession records a short span for sign-in or sign-out
func (s *SpanTelemetry) OnSession(ctx context.Context, event SessionEvent) {
	if !s.provider.IsEnabled() {
		return
	}

	name := SpanSessionSignOut
	if event.SignIn {
		name = SpanSessionSignIn
	}

	_, span := s.provider.StartSpan(ctx, name, AttrUser.String(event.User))
	span.SetStatus(codes.Ok, "")
	span.End()
}

// OnError records an error in the current span
func (s *SpanTelemetry) OnError(ctx context.Context, event ErrorEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent(EventError,
		trace.WithAttributes(
			AttrErrorOperation.String(event.Operation),
			AttrErrorSeverity.String(event.Severity),
		),
	)

	if event.Error != nil {
		span.RecordError(event.Error)
		if event.Severity == "critical" || event.Severity == "error" {
			span.SetStatus(codes.Error, event.Error.Error())
		}
	}
}

// EndSpan ends the current span in context
func (s *SpanTelemetry) EndSpan(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.End()
	}
}

func recordOutcome(ctx context.Context, success bool, duration time.Duration, err error, okEvent, failEvent string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(AttrDurationMs.Int64(duration.Milliseconds()))

	if success {
		span.AddEvent(okEvent)
		span.SetStatus(codes.Ok, "")
		return
	}

	span.AddEvent(failEvent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var _ Telemetry = (*SpanTelemetry)(nil)
