package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newDisabledEmitter(t *testing.T) *Emitter {
	t.Helper()

	emitter, err := NewEmitter(context.Background(), EmitterConfig{
		Config: &Config{
			Enabled:     false,
			ServiceName: "test-service",
			Environment: "test",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return emitter
}

func TestNewEmitter_Disabled(t *testing.T) {
	emitter := newDisabledEmitter(t)

	if emitter.IsTracesEnabled() {
		t.Error("traces should be disabled when master switch is off")
	}
	if emitter.IsMetricsEnabled() {
		t.Error("metrics should be disabled when master switch is off")
	}
	if emitter.IsEnabled() {
		t.Error("emitter should report as disabled")
	}
	if emitter.ServiceName() != "test-service" {
		t.Errorf("ServiceName() = %q, want %q", emitter.ServiceName(), "test-service")
	}
	if emitter.Environment() != "test" {
		t.Errorf("Environment() = %q, want %q", emitter.Environment(), "test")
	}
}

func TestNewEmitter_NoEndpoints(t *testing.T) {
	emitter, err := NewEmitter(context.Background(), EmitterConfig{
		Config: &Config{Enabled: true, ServiceName: "test-service"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if emitter.IsEnabled() {
		t.Error("emitter should be disabled without endpoints")
	}
}

func TestNewEmitter_BuildsConfigWhenNil(t *testing.T) {
	clearTelemetryEnv(t)
	t.Setenv("TELEMETRY_ENABLED", "false")

	emitter, err := NewEmitter(context.Background(), EmitterConfig{
		ServiceVersion: "1.2.3",
		Environment:    "dev",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if emitter.ServiceName() != "gettoken-demo" {
		t.Errorf("ServiceName() = %q, want %q", emitter.ServiceName(), "gettoken-demo")
	}
	if emitter.Environment() != "dev" {
		t.Errorf("Environment() = %q, want %q", emitter.Environment(), "dev")
	}
}

func TestEmitter_DisabledOperations(t *testing.T) {
	emitter := newDisabledEmitter(t)
	ctx := context.Background()

	if got := emitter.EmitTokenRequest(ctx, "project", "portal-1", "project-1"); got != ctx {
		t.Error("EmitTokenRequest should return the input context when disabled")
	}
	emitter.EmitTokenSuccess(ctx, "project", 100*time.Millisecond)
	emitter.EmitTokenFailure(ctx, "portal", errors.New("test error"), 100*time.Millisecond)

	if got := emitter.EmitDescribeRequest(ctx, "portal", "portal-1"); got != ctx {
		t.Error("EmitDescribeRequest should return the input context when disabled")
	}
	emitter.EmitDescribeResult(ctx, "portal", "portal-1", nil, time.Millisecond)
	emitter.EmitDescribeResult(ctx, "portal", "portal-1", errors.New("denied"), time.Millisecond)

	emitter.EmitSignIn(ctx, "alice")
	emitter.EmitSignOut(ctx, "alice")
	emitter.EmitError(ctx, "test", errors.New("test error"), "error")
	emitter.EndSpan(ctx)
}

func TestEmitter_GetStartTime(t *testing.T) {
	before := time.Now()
	emitter := newDisabledEmitter(t)
	after := time.Now()

	startTime := emitter.GetStartTime()
	if startTime.Before(before) || startTime.After(after) {
		t.Error("start time should be between before and after")
	}
}

func TestEmitter_CloseAndFlush(t *testing.T) {
	emitter := newDisabledEmitter(t)

	emitter.Flush(context.Background())
	if err := emitter.Close(context.Background()); err != nil {
		t.Errorf("unexpected error on close: %v", err)
	}
}
