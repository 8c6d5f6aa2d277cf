package telemetry

import "context"

// NoOp is a no-operation telemetry implementation.
type NoOp struct{}

// NewNoOp creates a new no-op telemetry instance
func NewNoOp() *NoOp {
	return &NoOp{}
}

var _ Telemetry = (*NoOp)(nil)

func (n *NoOp) OnTokenRequest(ctx context.Context, event TokenRequestEvent) context.Context {
	return ctx
}
func (n *NoOp) OnTokenResult(ctx context.Context, event TokenResultEvent) {}
func (n *NoOp) OnDescribeRequest(ctx context.Context, event DescribeRequestEvent) context.Context {
	return ctx
}
func (n *NoOp) OnDescribeResult(ctx context.Context, event DescribeResultEvent) {}
func (n *NoOp) OnSession(ctx context.Context, event SessionEvent)               {}
func (n *NoOp) OnError(ctx context.Context, event ErrorEvent)                   {}
func (n *NoOp) EndSpan(ctx context.Context)                                     {}
